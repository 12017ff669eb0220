// Package router holds the JSON response and request helpers shared by every route package.
package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// WriteJSON writes a 200 JSON response.
func WriteJSON(ctx *fasthttp.RequestCtx, data any) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus writes a JSON response with status.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data any) error {
	ctx.SetStatusCode(status)
	return WriteJSON(ctx, data)
}

// WriteJSONError writes {"error": message} with status.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// WriteAccepted answers 202 for a write that was queued.
func WriteAccepted(ctx *fasthttp.RequestCtx, data any) {
	if data == nil {
		data = map[string]string{"status": "queued"}
	}
	_ = WriteJSONStatus(ctx, fasthttp.StatusAccepted, data)
}
