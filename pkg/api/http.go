// Package api assembles the HTTP surface: route table, gateway and debug endpoints.
package api

import (
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"charhub/internal/retention"
	"charhub/pkg/api/auth"
	"charhub/pkg/api/router"
	"charhub/pkg/api/routes/account"
	adminRoutes "charhub/pkg/api/routes/admin"
	backendRoutes "charhub/pkg/api/routes/backend"
	frontendRoutes "charhub/pkg/api/routes/frontend"
	"charhub/pkg/events"
	"charhub/pkg/identity"
	"charhub/pkg/ingest/queue"
	mux "charhub/pkg/router"
	"charhub/pkg/sensor"
	"charhub/pkg/store"
	"charhub/pkg/workspace"
)

// Deps are the subsystems the routes serve. Identity, Retention and Sensor may be nil.
type Deps struct {
	Workspaces        *workspace.Manager
	Identity          *identity.Store
	Store             *store.Store
	Queue             *queue.IngestQueue
	Bus               *events.Bus
	Retention         *retention.Manager
	Sensor            *sensor.Sensor
	StreamMaxDuration time.Duration
	Started           time.Time
	Version           string
}

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// pprofHandler dispatches /admin/debug/pprof/{name...} to net/http/pprof.
func pprofHandler() fasthttp.RequestHandler {
	index := wrapHTTPHandler(http.HandlerFunc(pprof.Index))
	named := map[string]fasthttp.RequestHandler{
		"cmdline": wrapHTTPHandler(http.HandlerFunc(pprof.Cmdline)),
		"profile": wrapHTTPHandler(http.HandlerFunc(pprof.Profile)),
		"symbol":  wrapHTTPHandler(http.HandlerFunc(pprof.Symbol)),
		"trace":   wrapHTTPHandler(http.HandlerFunc(pprof.Trace)),
	}
	return func(ctx *fasthttp.RequestCtx) {
		name := strings.Trim(router.PathParam(ctx, "name"), "/")
		if h, ok := named[name]; ok {
			h(ctx)
			return
		}
		if name == "" {
			index(ctx)
			return
		}
		// runtime profiles: heap, goroutine, allocs, block, mutex, threadcreate
		wrapHTTPHandler(pprof.Handler(name))(ctx)
	}
}

func healthz(ctx *fasthttp.RequestCtx) {
	_ = router.WriteJSON(ctx, map[string]string{"status": "ok"})
}

func readyz(d Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if d.Store == nil || !d.Store.Ready() {
			router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "not ready")
			return
		}
		ver := d.Version
		if ver == "" {
			ver = "dev"
		}
		_ = router.WriteJSON(ctx, map[string]string{"status": "ok", "version": ver})
	}
}

// RegisterRoutes wires all API routes onto r.
func RegisterRoutes(r *mux.Router, d Deps) {
	r.GET("/healthz", healthz)
	r.GET("/readyz", readyz(d))

	backendRoutes.Register(r)
	if d.Identity != nil {
		(&account.Handlers{Identity: d.Identity}).Register(r)
	}
	(&frontendRoutes.Handlers{
		Workspaces:        d.Workspaces,
		Bus:               d.Bus,
		StreamMaxDuration: d.StreamMaxDuration,
	}).Register(r)

	admin := &adminRoutes.Handlers{
		Store:      d.Store,
		Queue:      d.Queue,
		Bus:        d.Bus,
		Workspaces: d.Workspaces,
		Started:    d.Started,
		Routes:     r.Routes,
	}
	if d.Identity != nil {
		admin.Users = d.Identity
	}
	if d.Retention != nil {
		admin.Retention = d.Retention
	}
	if d.Sensor != nil {
		admin.Sensor = d.Sensor
	}
	admin.Register(r)

	reg := newRegistry(d)
	r.GET("/admin/debug/prometheus", wrapHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/admin/debug/pprof/{name...}", pprofHandler())

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
}

// Handler returns the routed handler behind the gateway.
func Handler(d Deps, gw *auth.Gateway) fasthttp.RequestHandler {
	r := mux.New()
	RegisterRoutes(r, d)
	return gw.Middleware(r.Handler)
}
