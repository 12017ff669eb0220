package router

import (
	"errors"

	"github.com/valyala/fasthttp"

	"charhub/pkg/identity"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/llm"
	"charhub/pkg/logger"
	"charhub/pkg/photo"
	"charhub/pkg/workspace"
)

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	var ve *ValidationError
	var vr *ValidationResult
	switch {
	case errors.As(err, &ve), errors.As(err, &vr):
		return fasthttp.StatusBadRequest
	case errors.Is(err, workspace.ErrNotLoggedIn):
		return fasthttp.StatusUnauthorized
	case errors.Is(err, workspace.ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, photo.ErrTooLarge):
		return fasthttp.StatusRequestEntityTooLarge
	case errors.Is(err, workspace.ErrInvalidInput):
		return fasthttp.StatusBadRequest
	case errors.Is(err, llm.ErrGenerationFailed):
		return fasthttp.StatusBadGateway
	case errors.Is(err, workspace.ErrClosed), errors.Is(err, queue.ErrQueueClosed):
		return fasthttp.StatusServiceUnavailable
	case errors.Is(err, queue.ErrQueueFull):
		return fasthttp.StatusTooManyRequests
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrPasswordTooLong):
		return fasthttp.StatusBadRequest
	case errors.Is(err, identity.ErrEmailInUse):
		return fasthttp.StatusConflict
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrSessionNotFound),
		errors.Is(err, identity.ErrSessionExpired):
		return fasthttp.StatusUnauthorized
	default:
		return fasthttp.StatusInternalServerError
	}
}

// WriteError answers with the status for err. Internal errors are logged and
// reported without detail.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case fasthttp.StatusInternalServerError:
		logger.Error("request_failed", "path", string(ctx.Path()), "error", err)
		msg = "internal error"
	case fasthttp.StatusBadGateway:
		msg = "Generation Failed: " + err.Error()
	case fasthttp.StatusUnauthorized:
		if errors.Is(err, workspace.ErrNotLoggedIn) {
			msg = "not logged in"
		}
	}
	WriteJSONError(ctx, status, msg)
}
