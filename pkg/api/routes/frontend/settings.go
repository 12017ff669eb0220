package frontend

import (
	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
)

func (h *Handlers) GetSettings(ctx *fasthttp.RequestCtx) {
	st, ok := h.snapshot(ctx)
	if !ok {
		return
	}
	_ = router.WriteJSON(ctx, st.Settings)
}

// ToggleTheme flips light/dark. Anonymous callers get 401 and nothing is stored.
func (h *Handlers) ToggleTheme(ctx *fasthttp.RequestCtx) {
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	theme, err := ws.ToggleTheme(ctx)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, map[string]string{"theme": string(theme)})
}
