// Package admin serves operator routes under /admin.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"charhub/internal/retention"
	"charhub/pkg/api/router"
	"charhub/pkg/api/utils"
	"charhub/pkg/events"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	mux "charhub/pkg/router"
	"charhub/pkg/sensor"
	"charhub/pkg/store"
	"charhub/pkg/telemetry"
	"charhub/pkg/timeutil"
)

type Users interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

type Purger interface {
	RunImmediate(ctx context.Context, dryRun bool) (retention.Report, error)
	Last() *retention.Report
}

// Handlers reads from every subsystem; nil fields are reported as absent.
type Handlers struct {
	Users      Users
	Store      *store.Store
	Queue      *queue.IngestQueue
	Bus        *events.Bus
	Workspaces interface{ Len() int }
	Retention  Purger
	Sensor     interface{ Last() sensor.Reading }
	Started    time.Time
	// Routes lists the registered routes; set by the caller that owns the router.
	Routes func() []mux.Route
}

func (h *Handlers) Register(r *mux.Router) {
	r.GET("/admin/health", h.Health)
	r.GET("/admin/stats", h.Stats)
	r.GET("/admin/users", h.ListUsers)
	r.GET("/admin/events", h.Events)
	r.GET("/admin/routes", h.ListRoutes)
	r.POST("/admin/jobs/purge", h.RunPurge)
}

func (h *Handlers) Health(ctx *fasthttp.RequestCtx) {
	ready := h.Store != nil && h.Store.Ready()
	status := "ok"
	if !ready {
		status = "degraded"
	}
	res := map[string]any{"status": status, "service": "charhub", "store": ready}
	if h.Sensor != nil {
		r := h.Sensor.Last()
		if r.DiskAlert {
			res["status"] = "degraded"
		}
		res["resources"] = r
	}
	_ = router.WriteJSON(ctx, res)
}

type statsResponse struct {
	Started    time.Time                    `json:"started"`
	Uptime     string                       `json:"uptime"`
	Since      string                       `json:"since"`
	Workspaces int                          `json:"workspaces"`
	Queue      *queue.Stats                 `json:"queue,omitempty"`
	Store      *store.Stats                 `json:"store,omitempty"`
	Events     *events.Stats                `json:"events,omitempty"`
	Retention  *retention.Report            `json:"lastRetention,omitempty"`
	Telemetry  map[string]telemetry.Summary `json:"telemetry"`
}

func (h *Handlers) Stats(ctx *fasthttp.RequestCtx) {
	res := statsResponse{
		Started:   h.Started,
		Uptime:    timeutil.Now().Sub(h.Started).Round(time.Second).String(),
		Since:     humanize.Time(h.Started),
		Telemetry: telemetry.Summaries(),
	}
	if h.Workspaces != nil {
		res.Workspaces = h.Workspaces.Len()
	}
	if h.Queue != nil {
		qs := h.Queue.Stats()
		res.Queue = &qs
	}
	if h.Store != nil {
		ss := h.Store.Stats()
		res.Store = &ss
	}
	if h.Bus != nil {
		es := h.Bus.Stats()
		res.Events = &es
	}
	if h.Retention != nil {
		res.Retention = h.Retention.Last()
	}
	_ = router.WriteJSON(ctx, res)
}

func (h *Handlers) ListUsers(ctx *fasthttp.RequestCtx) {
	if h.Users == nil {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "identity store not configured")
		return
	}
	users, err := h.Users.ListUsers(ctx)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]any{"users": users, "count": len(users)})
}

// Events lists the most recent bus events, optionally filtered by kind and user.
func (h *Handlers) Events(ctx *fasthttp.RequestCtx) {
	if h.Bus == nil {
		_ = router.WriteJSON(ctx, map[string]any{"events": []events.Event{}})
		return
	}
	limit := utils.GetQueryInt(ctx, "limit", 50)
	kind := events.Kind(utils.GetQuery(ctx, "kind"))
	user := utils.GetQuery(ctx, "user")

	recent := h.Bus.Recent(0)
	out := make([]events.Event, 0, limit)
	for i := len(recent) - 1; i >= 0 && len(out) < limit; i-- {
		ev := recent[i]
		if kind != "" && ev.Kind != kind {
			continue
		}
		if user != "" && ev.User != user {
			continue
		}
		out = append(out, ev)
	}
	_ = router.WriteJSON(ctx, map[string]any{"events": out})
}

func (h *Handlers) ListRoutes(ctx *fasthttp.RequestCtx) {
	var routes []mux.Route
	if h.Routes != nil {
		routes = h.Routes()
	}
	_ = router.WriteJSON(ctx, map[string]any{"routes": routes})
}

// RunPurge runs the session retention job now. ?dry_run=1 only counts.
func (h *Handlers) RunPurge(ctx *fasthttp.RequestCtx) {
	if h.Retention == nil {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "retention not configured")
		return
	}
	dryRun := utils.GetQueryBool(ctx, "dry_run")
	rep, err := h.Retention.RunImmediate(ctx, dryRun)
	if err != nil {
		if errors.Is(err, retention.ErrRunning) {
			router.WriteJSONError(ctx, fasthttp.StatusConflict, err.Error())
			return
		}
		router.WriteError(ctx, err)
		return
	}
	logger.AuditInfo("admin_purge", "run_id", rep.RunID, "dry_run", dryRun, "purged", rep.Purged)
	_ = router.WriteJSON(ctx, rep)
}
