// Package router is a small fasthttp router with {name} path parameters.
// A final {name...} segment captures the rest of the path.
package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

type Router struct {
	routes   map[string][]route
	notFound fasthttp.RequestHandler
}

type route struct {
	pattern  string
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
	rest    bool
}

// Route describes one registration, for listings.
type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handler dispatches ctx. A path that matches under another method answers 405.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())
	if h, ok := r.lookup(method, path, ctx); ok {
		h(ctx)
		return
	}
	if method == fasthttp.MethodHead {
		if h, ok := r.lookup(fasthttp.MethodGet, path, ctx); ok {
			h(ctx)
			ctx.Response.SkipBody = true
			return
		}
	}
	if allowed := r.allowed(path); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (r *Router) lookup(method, path string, ctx *fasthttp.RequestCtx) (fasthttp.RequestHandler, bool) {
	for _, rt := range r.routes[method] {
		if values, ok := match(path, rt.segments); ok {
			for k, v := range values {
				ctx.SetUserValue(k, v)
			}
			return rt.handler, true
		}
	}
	return nil, false
}

func (r *Router) allowed(path string) []string {
	var out []string
	for method, list := range r.routes {
		for _, rt := range list {
			if _, ok := match(path, rt.segments); ok {
				out = append(out, method)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.Handle(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.Handle(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.Handle(fasthttp.MethodPut, path, h) }
func (r *Router) PATCH(path string, h fasthttp.RequestHandler)  { r.Handle(fasthttp.MethodPatch, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.Handle(fasthttp.MethodDelete, path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// Handle registers h for method and path. Routes are tried in registration order.
func (r *Router) Handle(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{pattern: path, segments: parse(path), handler: h})
}

// Routes lists every registration sorted by pattern then method.
func (r *Router) Routes() []Route {
	var out []Route
	for method, list := range r.routes {
		for _, rt := range list {
			out = append(out, Route{Method: method, Pattern: rt.pattern})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func parse(path string) []segment {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return []segment{{}}
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			name := part[1 : len(part)-1]
			rest := i == len(parts)-1 && strings.HasSuffix(name, "...")
			segs[i] = segment{name: strings.TrimSuffix(name, "..."), isParam: true, rest: rest}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.TrimPrefix(path, "/")
	var parts []string
	if path == "" {
		parts = []string{""}
	} else {
		parts = strings.Split(path, "/")
	}
	last := segs[len(segs)-1]
	if last.rest {
		if len(parts) < len(segs)-1 {
			return nil, false
		}
	} else if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.rest {
			if i < len(parts) {
				values[seg.name] = strings.Join(parts[i:], "/")
			} else {
				values[seg.name] = ""
			}
			return values, true
		}
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
