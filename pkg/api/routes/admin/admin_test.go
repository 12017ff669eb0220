package admin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"charhub/internal/retention"
	"charhub/pkg/events"
	"charhub/pkg/models"
	mux "charhub/pkg/router"
	"charhub/pkg/store"
	"charhub/pkg/store/db/memdb"
)

type fakeUsers []models.User

func (f fakeUsers) ListUsers(context.Context) ([]models.User, error) { return f, nil }

type fakePurger struct {
	dryRun bool
	err    error
}

func (f *fakePurger) RunImmediate(_ context.Context, dryRun bool) (retention.Report, error) {
	f.dryRun = dryRun
	if f.err != nil {
		return retention.Report{}, f.err
	}
	return retention.Report{RunID: "r1", DryRun: dryRun, Expired: 2}, nil
}

func (f *fakePurger) Last() *retention.Report { return nil }

type workspaces int

func (w workspaces) Len() int { return int(w) }

func call(t *testing.T, h fasthttp.RequestHandler, method, uri string) (int, map[string]any) {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	h(&ctx)
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out), string(ctx.Response.Body()))
	return ctx.Response.StatusCode(), out
}

func TestHealthAndStats(t *testing.T) {
	st := store.New(memdb.New())
	t.Cleanup(func() { _ = st.Close() })
	bus := events.NewBus(8)
	bus.Notify("u1", events.Notification{Title: "hi"})
	h := &Handlers{Store: st, Bus: bus, Workspaces: workspaces(3), Started: time.Now().Add(-time.Hour)}

	status, out := call(t, h.Health, "GET", "/admin/health")
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", out["status"])

	status, out = call(t, h.Stats, "GET", "/admin/stats")
	assert.Equal(t, 200, status)
	assert.EqualValues(t, 3, out["workspaces"])
	assert.Equal(t, "1h0m0s", out["uptime"])
	assert.Equal(t, "1 hour ago", out["since"])
	require.Contains(t, out, "events")
}

func TestEventsFilter(t *testing.T) {
	bus := events.NewBus(8)
	bus.Notify("u1", events.Notification{Title: "one"})
	bus.Notify("u2", events.Notification{Title: "two"})
	bus.Notify("u1", events.Notification{Title: "three"})
	h := &Handlers{Bus: bus}

	_, out := call(t, h.Events, "GET", "/admin/events?user=u1&limit=1")
	evs := out["events"].([]any)
	require.Len(t, evs, 1)
	assert.Equal(t, "three", evs[0].(map[string]any)["notification"].(map[string]any)["title"])

	_, out = call(t, h.Events, "GET", "/admin/events?kind=permission_error")
	assert.Empty(t, out["events"])
}

func TestUsers(t *testing.T) {
	h := &Handlers{Users: fakeUsers{{ID: "a"}, {ID: "b"}}}
	status, out := call(t, h.ListUsers, "GET", "/admin/users")
	assert.Equal(t, 200, status)
	assert.EqualValues(t, 2, out["count"])

	status, _ = call(t, (&Handlers{}).ListUsers, "GET", "/admin/users")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, status)
}

func TestRunPurge(t *testing.T) {
	p := &fakePurger{}
	h := &Handlers{Retention: p}

	status, out := call(t, h.RunPurge, "POST", "/admin/jobs/purge?dry_run=1")
	assert.Equal(t, 200, status)
	assert.True(t, p.dryRun)
	assert.Equal(t, "r1", out["runId"])

	p.err = retention.ErrRunning
	status, _ = call(t, h.RunPurge, "POST", "/admin/jobs/purge")
	assert.Equal(t, fasthttp.StatusConflict, status)

	p.err = errors.New("boom")
	status, _ = call(t, h.RunPurge, "POST", "/admin/jobs/purge")
	assert.Equal(t, 500, status)
}

func TestListRoutes(t *testing.T) {
	r := mux.New()
	h := &Handlers{}
	h.Routes = r.Routes
	h.Register(r)
	_, out := call(t, h.ListRoutes, "GET", "/admin/routes")
	assert.Len(t, out["routes"], 6)
}
