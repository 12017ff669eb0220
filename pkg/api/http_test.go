package api

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"charhub/pkg/api/auth"
	"charhub/pkg/events"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/llm/llmtest"
	"charhub/pkg/store"
	"charhub/pkg/store/db/memdb"
	"charhub/pkg/workspace"
)

func newTestAPI(t *testing.T) *fasthttp.Client {
	t.Helper()
	st := store.New(memdb.New())
	bus := events.NewBus(16)
	q := queue.NewIngestQueue(queue.Options{Capacity: 16, Workers: 1, WriteTimeout: time.Second, Store: st, Bus: bus})
	q.Start()
	mgr := workspace.NewManager(workspace.Deps{Store: st, Writer: q, Generator: &llmtest.Fake{}, Bus: bus}, workspace.ManagerOptions{})

	gw := auth.NewGateway(auth.SecConfig{
		RPS:          100,
		Burst:        100,
		FrontendKeys: map[string]struct{}{"front": {}},
		AdminKeys:    map[string]struct{}{"admin": {}},
	}, nil)

	h := Handler(Deps{Workspaces: mgr, Store: st, Queue: q, Bus: bus, Started: time.Now()}, gw)

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		gw.Close()
		mgr.Close()
		q.Close()
		_ = st.Close()
	})
	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func get(t *testing.T, c *fasthttp.Client, path, key string) (int, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://charhub.test" + path)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	require.NoError(t, c.Do(req, resp))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func TestAdminRoutesListing(t *testing.T) {
	c := newTestAPI(t)

	status, body := get(t, c, "/admin/routes", "admin")
	require.Equal(t, fasthttp.StatusOK, status, string(body))

	var out struct {
		Routes []struct {
			Method  string `json:"method"`
			Pattern string `json:"pattern"`
		} `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	patterns := map[string]bool{}
	for _, r := range out.Routes {
		patterns[r.Method+" "+r.Pattern] = true
	}
	assert.True(t, patterns["POST /v1/characters"])
	assert.True(t, patterns["POST /v1/_sign"])
	assert.True(t, patterns["GET /admin/debug/prometheus"])
	// identity is not configured
	assert.False(t, patterns["POST /v1/auth/signup"])
}

func TestPrometheusExposesCharhubMetrics(t *testing.T) {
	c := newTestAPI(t)

	status, body := get(t, c, "/admin/debug/prometheus", "admin")
	require.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "charhub_queue_length")
	assert.Contains(t, string(body), "charhub_workspaces_open")
	assert.Contains(t, string(body), "charhub_store_ops_total")
	assert.Contains(t, string(body), "go_heap_alloc_bytes")
}

func TestPprofNamedProfile(t *testing.T) {
	c := newTestAPI(t)

	status, body := get(t, c, "/admin/debug/pprof/goroutine?debug=1", "admin")
	require.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "goroutine profile")
}

func TestRoleSeparation(t *testing.T) {
	c := newTestAPI(t)

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"frontend cannot reach admin", "/admin/routes", "front", fasthttp.StatusForbidden},
		{"admin cannot reach v1", "/v1/settings", "admin", fasthttp.StatusForbidden},
		{"no key", "/v1/settings", "", fasthttp.StatusUnauthorized},
		{"health is public", "/healthz", "", fasthttp.StatusOK},
		{"ready is public", "/readyz", "", fasthttp.StatusOK},
		{"unknown route", "/v1/nothing-here", "front", fasthttp.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, c, tt.path, tt.key)
			assert.Equal(t, tt.status, status, string(body))
		})
	}
}
