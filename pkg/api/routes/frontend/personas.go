package frontend

import (
	"strings"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
	"charhub/pkg/models"
	"charhub/pkg/workspace"
)

func (h *Handlers) ListPersonas(ctx *fasthttp.RequestCtx) {
	st, ok := h.snapshot(ctx)
	if !ok {
		return
	}
	_ = router.WriteJSON(ctx, struct {
		Personas        []models.UserPersona `json:"personas"`
		ActivePersonaID string               `json:"activePersonaId"`
	}{st.Personas, st.ActivePersonaID})
}

func (h *Handlers) CreatePersona(ctx *fasthttp.RequestCtx) {
	var form workspace.PersonaForm
	if !router.DecodeBodyOrFail(ctx, &form) {
		return
	}
	if strings.TrimSpace(form.Name) == "" {
		router.WriteError(ctx, &router.ValidationError{Field: "name", Message: "required"})
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	p, err := ws.CreatePersona(ctx, form)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, p)
}

func (h *Handlers) UpdatePersona(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var patch workspace.PersonaPatch
	if !router.DecodeBodyOrFail(ctx, &patch) {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	p, err := ws.UpdatePersona(ctx, id, patch)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, p)
}

func (h *Handlers) DeletePersona(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	if err := ws.DeletePersona(ctx, id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, nil)
}

func (h *Handlers) ActivatePersona(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	h.setActivePersona(ctx, id)
}

func (h *Handlers) DeactivatePersona(ctx *fasthttp.RequestCtx) {
	h.setActivePersona(ctx, "")
}

func (h *Handlers) setActivePersona(ctx *fasthttp.RequestCtx, id string) {
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	if err := ws.SetActivePersona(ctx, id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, map[string]string{"activePersonaId": id})
}
