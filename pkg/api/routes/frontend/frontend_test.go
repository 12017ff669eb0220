package frontend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"charhub/pkg/events"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/llm/llmtest"
	"charhub/pkg/models"
	mux "charhub/pkg/router"
	"charhub/pkg/store"
	"charhub/pkg/store/db/memdb"
	"charhub/pkg/workspace"
)

type testServer struct {
	client *fasthttp.Client
	queue  *queue.IngestQueue
	bus    *events.Bus
	gen    *llmtest.Fake
}

// newTestServer serves the routes over an in-memory listener. X-Test-User
// stands in for the gateway's user resolution.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.New(memdb.New())
	bus := events.NewBus(32)
	q := queue.NewIngestQueue(queue.Options{Capacity: 64, Workers: 2, WriteTimeout: time.Second, Store: st, Bus: bus})
	q.Start()
	gen := &llmtest.Fake{}
	mgr := workspace.NewManager(workspace.Deps{Store: st, Writer: q, Generator: gen, Bus: bus}, workspace.ManagerOptions{})

	h := &Handlers{Workspaces: mgr, Bus: bus, StreamMaxDuration: 300 * time.Millisecond, KeepAlive: 50 * time.Millisecond}
	r := mux.New()
	h.Register(r)

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		if u := string(ctx.Request.Header.Peek("X-Test-User")); u != "" {
			ctx.SetUserValue("user", u)
		}
		r.Handler(ctx)
	}}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		mgr.Close()
		q.Close()
		_ = st.Close()
	})
	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return &testServer{client: client, queue: q, bus: bus, gen: gen}
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, out), string(r.body))
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) response {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://charhub.test" + path)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req.SetBody(b)
		req.Header.SetContentType("application/json")
	}
	require.NoError(t, s.client.DoTimeout(req, resp, 5*time.Second))
	return response{status: resp.StatusCode(), body: append([]byte(nil), resp.Body()...)}
}

func (s *testServer) flush(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return s.queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func photoURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: 40, B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (s *testServer) createCharacter(t *testing.T, user string) models.Character {
	t.Helper()
	res := s.do(t, "POST", "/v1/characters", user, workspace.CharacterForm{Name: "Mira", Personality: "curious", Photo: photoURI(t)})
	require.Equal(t, fasthttp.StatusCreated, res.status, string(res.body))
	var c models.Character
	res.decode(t, &c)
	return c
}

func TestCharacterLifecycle(t *testing.T) {
	s := newTestServer(t)
	c := s.createCharacter(t, "u1")
	assert.Len(t, c.Profile.Likes, 5)
	assert.Len(t, c.Profile.Dislikes, 5)

	var list struct {
		Characters        []models.Character `json:"characters"`
		ActiveCharacterID string             `json:"activeCharacterId"`
	}
	s.do(t, "GET", "/v1/characters", "u1", nil).decode(t, &list)
	require.Len(t, list.Characters, 1)
	assert.Equal(t, c.ID, list.ActiveCharacterID)

	res := s.do(t, "GET", "/v1/characters/"+c.ID, "u1", nil)
	assert.Equal(t, 200, res.status)

	name := "Mira II"
	res = s.do(t, "PUT", "/v1/characters/"+c.ID, "u1", workspace.CharacterPatch{Name: &name})
	assert.Equal(t, fasthttp.StatusAccepted, res.status)

	res = s.do(t, "DELETE", "/v1/characters/"+c.ID, "u1", nil)
	assert.Equal(t, fasthttp.StatusAccepted, res.status)
	s.flush(t)

	res = s.do(t, "GET", "/v1/characters/"+c.ID, "u1", nil)
	assert.Equal(t, fasthttp.StatusNotFound, res.status)
}

func TestCreateCharacterErrors(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, "POST", "/v1/characters", "u1", map[string]string{"name": "x"})
	assert.Equal(t, fasthttp.StatusBadRequest, res.status)
	assert.Contains(t, string(res.body), "personality")

	res = s.do(t, "POST", "/v1/characters", "", workspace.CharacterForm{Name: "Mira", Personality: "p", Photo: photoURI(t)})
	assert.Equal(t, fasthttp.StatusUnauthorized, res.status)
	assert.Contains(t, string(res.body), "not logged in")

	s.gen.ProfileErr = errors.New("quota")
	res = s.do(t, "POST", "/v1/characters", "u1", workspace.CharacterForm{Name: "Mira", Personality: "p", Photo: photoURI(t)})
	assert.Equal(t, fasthttp.StatusBadGateway, res.status)
	assert.Contains(t, string(res.body), "Generation Failed")
}

func TestDeleteOnlySessionKeepsOne(t *testing.T) {
	s := newTestServer(t)
	c := s.createCharacter(t, "u1")

	res := s.do(t, "DELETE", "/v1/characters/"+c.ID+"/sessions/"+c.ActiveChatSessionID, "u1", nil)
	require.Equal(t, fasthttp.StatusAccepted, res.status)
	var after models.Character
	res.decode(t, &after)
	require.Len(t, after.ChatSessions, 1)
	assert.NotEqual(t, c.ActiveChatSessionID, after.ActiveChatSessionID)
	assert.Equal(t, after.ChatSessions[0].ID, after.ActiveChatSessionID)
	assert.Empty(t, after.ChatSessions[0].Messages)
}

func TestChat(t *testing.T) {
	s := newTestServer(t)
	c := s.createCharacter(t, "u1")

	res := s.do(t, "POST", "/v1/characters/"+c.ID+"/messages", "u1", map[string]string{"text": " "})
	assert.Equal(t, fasthttp.StatusBadRequest, res.status)

	res = s.do(t, "POST", "/v1/characters/"+c.ID+"/messages", "u1", map[string]string{"text": "hi"})
	require.Equal(t, 200, res.status, string(res.body))
	var msg models.ChatMessage
	res.decode(t, &msg)
	assert.Equal(t, models.RoleModel, msg.Role)

	res = s.do(t, "POST", "/v1/characters/"+c.ID+"/sessions", "u1", nil)
	require.Equal(t, fasthttp.StatusAccepted, res.status)
	var sess models.ChatSession
	res.decode(t, &sess)

	res = s.do(t, "POST", "/v1/characters/"+c.ID+"/sessions/"+c.ActiveChatSessionID+"/select", "u1", nil)
	assert.Equal(t, fasthttp.StatusAccepted, res.status)

	res = s.do(t, "DELETE", "/v1/characters/"+c.ID+"/messages", "u1", nil)
	assert.Equal(t, fasthttp.StatusAccepted, res.status)
}

func TestPersonas(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, "POST", "/v1/personas", "u1", workspace.PersonaForm{Name: "Sam", Description: "a sailor"})
	require.Equal(t, fasthttp.StatusAccepted, res.status)
	var p models.UserPersona
	res.decode(t, &p)

	res = s.do(t, "POST", "/v1/personas/"+p.ID+"/activate", "u1", nil)
	require.Equal(t, fasthttp.StatusAccepted, res.status)

	var list struct {
		Personas        []models.UserPersona `json:"personas"`
		ActivePersonaID string               `json:"activePersonaId"`
	}
	s.do(t, "GET", "/v1/personas", "u1", nil).decode(t, &list)
	assert.Equal(t, p.ID, list.ActivePersonaID)

	res = s.do(t, "POST", "/v1/personas/deactivate", "u1", nil)
	require.Equal(t, fasthttp.StatusAccepted, res.status)
	s.do(t, "GET", "/v1/personas", "u1", nil).decode(t, &list)
	assert.Empty(t, list.ActivePersonaID)

	res = s.do(t, "DELETE", "/v1/personas/"+p.ID, "u1", nil)
	assert.Equal(t, fasthttp.StatusAccepted, res.status)

	res = s.do(t, "POST", "/v1/personas", "u1", map[string]string{"description": "nameless"})
	assert.Equal(t, fasthttp.StatusBadRequest, res.status)
}

func TestToggleTheme(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, "POST", "/v1/settings/theme/toggle", "", nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, res.status)
	assert.Contains(t, string(res.body), "not logged in")

	res = s.do(t, "POST", "/v1/settings/theme/toggle", "u1", nil)
	require.Equal(t, fasthttp.StatusAccepted, res.status)
	assert.Contains(t, string(res.body), `"dark"`)

	var settings models.Settings
	s.do(t, "GET", "/v1/settings", "u1", nil).decode(t, &settings)
	assert.Equal(t, models.ThemeDark, settings.Theme)

	s.do(t, "GET", "/v1/settings", "", nil).decode(t, &settings)
	assert.Equal(t, models.ThemeLight, settings.Theme)
}

func TestStreamSendsStateAndEvents(t *testing.T) {
	s := newTestServer(t)

	done := make(chan response, 1)
	go func() { done <- s.do(t, "GET", "/v1/stream", "u1", nil) }()

	require.Eventually(t, func() bool { return s.bus.Stats().Subscribers > 0 }, 2*time.Second, 5*time.Millisecond)
	s.bus.Notify("u1", events.Notification{Title: "hello"})
	s.bus.Notify("u2", events.Notification{Title: "not yours"})

	res := <-done
	assert.Equal(t, 200, res.status)
	body := string(res.body)
	assert.True(t, strings.HasPrefix(body, "event: state\n"), body)
	assert.Contains(t, body, "event: notification\nid: ")
	assert.Contains(t, body, `"hello"`)
	assert.NotContains(t, body, "not yours")
}

func TestStreamAnonymousOnlyState(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, "GET", "/v1/stream", "", nil)
	assert.Equal(t, 200, res.status)
	assert.Contains(t, string(res.body), "event: state")
	assert.Zero(t, s.bus.Stats().Subscribers)
}
