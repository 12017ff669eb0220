package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(&ctx)
	return &ctx
}

func TestRouterMatching(t *testing.T) {
	r := New()
	hit := func(name string) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString(name) }
	}
	r.GET("/", hit("root"))
	r.GET("/v1/characters", hit("list"))
	r.GET("/v1/characters/{id}", hit("get"))
	r.DELETE("/v1/characters/{id}/sessions/{sid}", hit("delete-session"))
	r.GET("/admin/debug/pprof/{name...}", hit("pprof"))

	tests := []struct {
		method, path string
		status       int
		body         string
		params       map[string]string
	}{
		{"GET", "/", 200, "root", nil},
		{"GET", "/v1/characters", 200, "list", nil},
		{"GET", "/v1/characters/abc", 200, "get", map[string]string{"id": "abc"}},
		{"DELETE", "/v1/characters/abc/sessions/s1", 200, "delete-session", map[string]string{"id": "abc", "sid": "s1"}},
		{"GET", "/admin/debug/pprof/", 200, "pprof", map[string]string{"name": ""}},
		{"GET", "/admin/debug/pprof/heap", 200, "pprof", map[string]string{"name": "heap"}},
		{"HEAD", "/v1/characters", 200, "", nil},
		{"POST", "/v1/characters/abc", 405, "", nil},
		{"GET", "/v1/characters/", 404, "", nil},
		{"GET", "/nope", 404, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			ctx := serve(r, tt.method, tt.path)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			if tt.body != "" {
				assert.Equal(t, tt.body, string(ctx.Response.Body()))
			}
			for k, v := range tt.params {
				assert.Equal(t, v, ctx.UserValue(k))
			}
		})
	}
}

func TestMethodNotAllowedListsMethods(t *testing.T) {
	r := New()
	noop := func(*fasthttp.RequestCtx) {}
	r.GET("/v1/settings", noop)
	r.PUT("/v1/settings", noop)
	ctx := serve(r, "DELETE", "/v1/settings")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "GET, PUT", string(ctx.Response.Header.Peek("Allow")))
}

func TestNotFoundHandlerAndRoutes(t *testing.T) {
	r := New()
	r.NotFound(func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(418) })
	r.POST("/b", func(*fasthttp.RequestCtx) {})
	r.GET("/a", func(*fasthttp.RequestCtx) {})

	assert.Equal(t, 418, serve(r, "GET", "/zzz").Response.StatusCode())
	assert.Equal(t, []Route{{Method: "GET", Pattern: "/a"}, {Method: "POST", Pattern: "/b"}}, r.Routes())
}
