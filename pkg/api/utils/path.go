package utils

import (
	"slices"

	"github.com/valyala/fasthttp"
)

// GetPath returns the request path as string
func GetPath(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Path())
}

// HasPath reports whether the request path is exactly one of paths.
func HasPath(ctx *fasthttp.RequestCtx, paths ...string) bool {
	return slices.Contains(paths, GetPath(ctx))
}
