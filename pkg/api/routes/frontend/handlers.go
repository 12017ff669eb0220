// Package frontend serves the per-user routes under /v1: characters, chat
// sessions, personas, settings and the live state stream.
package frontend

import (
	"time"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
	"charhub/pkg/api/utils"
	"charhub/pkg/events"
	"charhub/pkg/workspace"
)

type Handlers struct {
	Workspaces *workspace.Manager
	Bus        *events.Bus
	// StreamMaxDuration bounds one /v1/stream response; clients reconnect.
	StreamMaxDuration time.Duration
	KeepAlive         time.Duration
}

// workspace returns the caller's workspace, answering the request on failure.
func (h *Handlers) workspace(ctx *fasthttp.RequestCtx) (*workspace.Workspace, bool) {
	ws, err := h.Workspaces.Get(ctx, utils.RequestUser(ctx))
	if err != nil {
		router.WriteError(ctx, err)
		return nil, false
	}
	return ws, true
}

func (h *Handlers) snapshot(ctx *fasthttp.RequestCtx) (workspace.State, bool) {
	ws, ok := h.workspace(ctx)
	if !ok {
		return workspace.State{}, false
	}
	st, err := ws.Snapshot(ctx)
	if err != nil {
		router.WriteError(ctx, err)
		return workspace.State{}, false
	}
	return st, true
}

// State returns the caller's whole state.
func (h *Handlers) State(ctx *fasthttp.RequestCtx) {
	st, ok := h.snapshot(ctx)
	if !ok {
		return
	}
	_ = router.WriteJSON(ctx, st)
}
