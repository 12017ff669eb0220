package auth

import (
	"errors"
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
	"charhub/pkg/api/utils"
	"charhub/pkg/identity"
	"charhub/pkg/logger"
	"charhub/pkg/telemetry"
)

// Gateway authenticates every request: CORS, IP whitelist, API key role,
// per-key rate limit and finally the user the request acts for.
type Gateway struct {
	cfg      SecConfig
	resolver Resolver
	limiters *limiterPool
}

// NewGateway builds a gateway. resolver may be nil, in which case bearer
// tokens are rejected.
func NewGateway(cfg SecConfig, resolver Resolver) *Gateway {
	return &Gateway{cfg: cfg, resolver: resolver, limiters: newLimiterPool(cfg.RPS, cfg.Burst)}
}

// Close stops the limiter cleanup loop.
func (g *Gateway) Close() { g.limiters.Shutdown() }

func (g *Gateway) Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	cfg := g.cfg
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		// cors headers and handle options shortcut
		origin := utils.GetHeader(ctx, "Origin")
		if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
			ctx.Response.Header.Set("Access-Control-Max-Age", "600")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature")
			ctx.Response.Header.Set("Access-Control-Expose-Headers", "X-Role-Name")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		// ip whitelist check (always before all other checks except cors/options)
		if len(cfg.IPWhitelist) > 0 {
			ip := clientIPFast(ctx)
			if !ipWhitelisted(ip, cfg.IPWhitelist) {
				router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", utils.GetPath(ctx))
				return
			}
		}

		if publicAllowedPath(ctx) {
			ctx.Request.Header.Set("X-Role-Name", RoleUnauth.String())
			next(ctx)
			return
		}

		role, key, hasAPIKey := validateAPIKey(ctx, cfg)
		if role == RoleUnauth || !hasAPIKey {
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			logger.Warn("request_unauthorized", "path", utils.GetPath(ctx), "remote", ctx.RemoteAddr().String())
			return
		}
		ctx.Request.Header.Set("X-Role-Name", role.String())
		ctx.Response.Header.Set("X-Role-Name", role.String())

		if msg, ok := routeAllowed(role, utils.GetPath(ctx)); !ok {
			router.WriteJSONError(ctx, fasthttp.StatusForbidden, msg)
			logger.Warn("request_forbidden", "role", role.String(), "path", utils.GetPath(ctx))
			return
		}

		// rate limiting (per-key)
		if !g.limiters.Allow(key) {
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			logger.Warn("rate_limited", "role", role.String(), "path", utils.GetPath(ctx))
			return
		}

		if role != RoleAdmin {
			if rerr := g.resolveUser(ctx, role); rerr != nil {
				router.WriteJSONError(ctx, rerr.Code, rerr.Message)
				return
			}
		}
		next(ctx)
	}
}

// resolveUser sets the "user" value. Order: signed user id, session bearer
// token, backend-asserted X-User-ID. Anything else is anonymous.
func (g *Gateway) resolveUser(ctx *fasthttp.RequestCtx, role Role) *UserResolutionError {
	tr := telemetry.Track("auth.resolve_user")
	defer tr.Finish()

	userID := utils.GetUserID(ctx)
	if sig := utils.GetUserSignature(ctx); sig != "" {
		tr.Mark("verify_signature")
		if userID == "" || !VerifyHMACSignature(userID, sig) {
			logger.Warn("invalid_signature", "user", userID, "remote", ctx.RemoteAddr().String(), "path", utils.GetPath(ctx))
			return ErrInvalidSignature
		}
		if err := validateUserID(userID); err != nil {
			return err
		}
		logger.Debug("signature_verified", "user", userID, "path", utils.GetPath(ctx))
		ctx.SetUserValue("user", userID)
		return nil
	}

	if token := utils.ExtractBearer(ctx); token != "" {
		tr.Mark("resolve_session")
		if g.resolver == nil {
			return ErrInvalidSession
		}
		u, err := g.resolver.Resolve(ctx, token)
		if err != nil {
			if !errors.Is(err, identity.ErrSessionNotFound) && !errors.Is(err, identity.ErrSessionExpired) {
				logger.Error("session_resolve_failed", "error", err)
			}
			logger.Warn("invalid_session", "remote", ctx.RemoteAddr().String(), "path", utils.GetPath(ctx))
			return ErrInvalidSession
		}
		ctx.SetUserValue("user", u.ID)
		ctx.SetUserValue("session_token", token)
		return nil
	}

	if role == RoleBackend && userID != "" {
		if err := validateUserID(userID); err != nil {
			return err
		}
		ctx.SetUserValue("user", userID)
	}
	return nil
}

func clientIPFast(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func validateAPIKey(ctx *fasthttp.RequestCtx, cfg SecConfig) (Role, string, bool) {
	key := utils.ExtractAPIKey(ctx)

	if key == "" {
		return RoleUnauth, clientIPFast(ctx), false
	}
	if _, ok := cfg.AdminKeys[key]; ok {
		return RoleAdmin, key, true
	}
	if _, ok := cfg.BackendKeys[key]; ok {
		return RoleBackend, key, true
	}
	if _, ok := cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key, true
	}
	return RoleUnauth, key, true
}

// routeAllowed applies role restrictions: admins only reach /admin, the rest
// only reach /v1, and signing is backend-only.
func routeAllowed(role Role, path string) (string, bool) {
	isAdminPath := path == "/admin" || strings.HasPrefix(path, "/admin/")
	switch role {
	case RoleAdmin:
		if !isAdminPath {
			return "admin api keys may only access /admin routes", false
		}
	case RoleBackend, RoleFrontend:
		if isAdminPath {
			return "admin routes require an admin api key", false
		}
		if role == RoleFrontend && strings.HasPrefix(path, "/v1/_") {
			return "forbidden", false
		}
	}
	return "", true
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

func publicAllowedPath(ctx *fasthttp.RequestCtx) bool {
	method := string(ctx.Method())
	return utils.HasPath(ctx, "/healthz", "/readyz") && (method == fasthttp.MethodGet || method == fasthttp.MethodHead)
}
