package frontend

import (
	"strings"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
)

func (h *Handlers) NewSession(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	s, err := ws.NewChatSession(ctx, id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, s)
}

func (h *Handlers) SelectSession(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sid, ok := router.ValidatePathParam(ctx, "sid")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	if err := ws.SelectChatSession(ctx, id, sid); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, nil)
}

// DeleteSession answers with the character as it is after the delete, which
// always has at least one session.
func (h *Handlers) DeleteSession(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	sid, ok := router.ValidatePathParam(ctx, "sid")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	c, err := ws.DeleteChatSession(ctx, id, sid)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, c)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handlers) SendMessage(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if !router.DecodeBodyOrFail(ctx, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		router.WriteError(ctx, &router.ValidationError{Field: "text", Message: "required"})
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	msg, err := ws.SendMessage(ctx, id, req.Text)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, msg)
}

func (h *Handlers) ClearChat(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	if err := ws.ClearChat(ctx, id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, nil)
}
