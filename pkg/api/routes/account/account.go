// Package account serves email/password sign-up, sign-in and sign-out.
package account

import (
	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
	"charhub/pkg/api/utils"
	"charhub/pkg/identity"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	mux "charhub/pkg/router"
	"charhub/pkg/workspace"
)

type Handlers struct {
	Identity *identity.Store
}

func (h *Handlers) Register(r *mux.Router) {
	r.POST("/v1/auth/signup", h.SignUp)
	r.POST("/v1/auth/signin", h.SignIn)
	r.POST("/v1/auth/signout", h.SignOut)
	r.GET("/v1/auth/me", h.Me)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User    models.User    `json:"user"`
	Session models.Session `json:"session"`
}

func decodeCredentials(ctx *fasthttp.RequestCtx) (credentials, bool) {
	var c credentials
	if !router.DecodeBodyOrFail(ctx, &c) {
		return c, false
	}
	vr := &router.ValidationResult{Valid: true}
	if c.Email == "" {
		vr.AddError("email", "required")
	}
	if c.Password == "" {
		vr.AddError("password", "required")
	}
	if err := vr.Err(); err != nil {
		router.WriteError(ctx, err)
		return c, false
	}
	return c, true
}

func (h *Handlers) SignUp(ctx *fasthttp.RequestCtx) {
	c, ok := decodeCredentials(ctx)
	if !ok {
		return
	}
	u, s, err := h.Identity.SignUp(ctx, c.Email, c.Password)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	logger.AuditInfo("user_signed_up", "user", u.ID)
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, sessionResponse{u, s})
}

func (h *Handlers) SignIn(ctx *fasthttp.RequestCtx) {
	c, ok := decodeCredentials(ctx)
	if !ok {
		return
	}
	u, s, err := h.Identity.SignIn(ctx, c.Email, c.Password)
	if err != nil {
		logger.Warn("signin_failed", "remote", ctx.RemoteAddr().String())
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, sessionResponse{u, s})
}

// SignOut revokes the bearer session the request came with.
func (h *Handlers) SignOut(ctx *fasthttp.RequestCtx) {
	token := utils.RequestToken(ctx)
	if token == "" {
		router.WriteError(ctx, workspace.ErrNotLoggedIn)
		return
	}
	if err := h.Identity.SignOut(ctx, token); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// Me reports who the request acts for. Signed or backend-asserted users have
// no session and only get their id back.
func (h *Handlers) Me(ctx *fasthttp.RequestCtx) {
	user := utils.RequestUser(ctx)
	if user == "" {
		router.WriteError(ctx, workspace.ErrNotLoggedIn)
		return
	}
	if token := utils.RequestToken(ctx); token != "" {
		u, err := h.Identity.Resolve(ctx, token)
		if err != nil {
			router.WriteError(ctx, err)
			return
		}
		_ = router.WriteJSON(ctx, u)
		return
	}
	_ = router.WriteJSON(ctx, models.User{ID: user})
}
