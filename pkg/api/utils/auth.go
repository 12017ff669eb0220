package utils

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// ExtractAPIKey returns the X-API-Key header. The Authorization header is
// reserved for user session tokens.
func ExtractAPIKey(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, "X-API-Key")
}

// ExtractBearer returns the token from "Authorization: Bearer <token>", or "".
func ExtractBearer(ctx *fasthttp.RequestCtx) string {
	auth := GetHeader(ctx, "Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.Fields(auth)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// Returns the value of the X-Role-Name header, lowercased
func GetApiRole(ctx *fasthttp.RequestCtx) string {
	return GetHeaderLower(ctx, "X-Role-Name")
}

// Returns the value of the X-User-ID header
func GetUserID(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, "X-User-ID")
}

// Returns the value of the X-User-Signature header
func GetUserSignature(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, "X-User-Signature")
}

func IsBackendRole(ctx *fasthttp.RequestCtx) bool {
	return GetApiRole(ctx) == "backend"
}

// RequestUser returns the user id the gateway resolved, or "" for anonymous.
func RequestUser(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue("user").(string); ok {
		return v
	}
	return ""
}

// RequestToken returns the session token the request was authenticated with.
func RequestToken(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue("session_token").(string); ok {
		return v
	}
	return ""
}
