package workspace

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"charhub/pkg/events"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/llm"
	"charhub/pkg/llm/llmtest"
	"charhub/pkg/models"
	"charhub/pkg/store"
	"charhub/pkg/store/db/memdb"
	"charhub/pkg/store/keys"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	ws    *Workspace
	store *store.Store
	mem   *memdb.DB
	queue *queue.IngestQueue
	bus   *events.Bus
	gen   *llmtest.Fake
	deps  Deps
}

func newHarness(t *testing.T, user string) *harness {
	t.Helper()
	mem := memdb.New()
	st := store.New(mem)
	bus := events.NewBus(32)
	q := queue.NewIngestQueue(queue.Options{Capacity: 64, Workers: 2, WriteTimeout: time.Second, Store: st, Bus: bus})
	q.Start()
	gen := &llmtest.Fake{}
	deps := Deps{Store: st, Writer: q, Generator: gen, Bus: bus}

	ws, err := Open(context.Background(), user, deps)
	require.NoError(t, err)
	h := &harness{ws: ws, store: st, mem: mem, queue: q, bus: bus, gen: gen, deps: deps}
	t.Cleanup(func() {
		ws.Close()
		q.Close()
		_ = st.Close()
	})
	return h
}

// flush waits until every queued write has been applied or has failed.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	s, err := h.ws.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func photoURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: 90, B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestCreateCharacterWithoutInstructions(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()

	c, err := h.ws.CreateCharacter(ctx, CharacterForm{Name: "Mira", Personality: "curious", Photo: photoURI(t)})
	require.NoError(t, err)

	assert.Len(t, c.Profile.Likes, llm.ProfileLikes)
	assert.Len(t, c.Profile.Dislikes, llm.ProfileDislikes)
	require.Len(t, c.ChatSessions, 1)
	assert.Equal(t, c.ChatSessions[0].ID, c.ActiveChatSessionID)
	assert.Empty(t, c.ChatSessions[0].Messages)
	assert.Contains(t, c.PhotoURL, "data:image/jpeg;base64,")

	profiles, _ := h.gen.Calls()
	assert.Equal(t, 1, profiles)
	assert.Empty(t, h.gen.ProfileCalls[0].Instructions)

	h.flush(t)
	var stored models.Character
	require.NoError(t, h.store.Get(ctx, "u1", keys.Characters, c.ID, &stored))
	assert.Equal(t, "Mira", stored.Name)

	s := h.state(t)
	assert.Equal(t, c.ID, s.ActiveCharacterID)
	assert.False(t, s.Generating)
}

func TestCreateCharacterGenerationFailure(t *testing.T) {
	h := newHarness(t, "u1")
	h.gen.ProfileErr = errors.New("quota exceeded")
	sub := h.bus.SubscribeUser("u1", 4)
	defer sub.Close()

	_, err := h.ws.CreateCharacter(context.Background(), CharacterForm{Name: "Mira", Photo: photoURI(t)})
	require.ErrorIs(t, err, llm.ErrGenerationFailed)

	ev := <-sub.C
	require.Equal(t, events.KindNotification, ev.Kind)
	assert.Equal(t, events.TitleGenerationFailed, ev.Notification.Title)

	h.flush(t)
	snap, err := h.store.List(context.Background(), "u1", keys.Characters)
	require.NoError(t, err)
	assert.Empty(t, snap.Docs)
	assert.Empty(t, h.state(t).Characters)
}

func TestConcurrentCreatesKeepGeneratingUntilLastFinishes(t *testing.T) {
	h := newHarness(t, "u1")
	block := make(chan struct{})
	h.gen.Block = block

	uri := photoURI(t)
	errs := make(chan error, 2)
	for _, name := range []string{"Mira", "Oren"} {
		go func() {
			_, err := h.ws.CreateCharacter(context.Background(), CharacterForm{Name: name, Photo: uri})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return h.state(t).Generations == 2 }, 2*time.Second, 5*time.Millisecond)

	// release one call; the other is still waiting on the model
	block <- struct{}{}
	require.NoError(t, <-errs)
	s := h.state(t)
	assert.True(t, s.Generating)
	assert.Equal(t, 1, s.Generations)

	block <- struct{}{}
	require.NoError(t, <-errs)
	assert.False(t, h.state(t).Generating)
	h.flush(t)
	require.Eventually(t, func() bool { return len(h.state(t).Characters) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestCreateCharacterRejectsBadInput(t *testing.T) {
	h := newHarness(t, "u1")
	tests := []struct {
		name string
		form CharacterForm
	}{
		{"no name", CharacterForm{Photo: photoURI(t)}},
		{"no photo", CharacterForm{Name: "Mira"}},
		{"not an image", CharacterForm{Name: "Mira", Photo: "data:image/png;base64,aGVsbG8="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ws.CreateCharacter(context.Background(), tt.form)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	profiles, _ := h.gen.Calls()
	assert.Zero(t, profiles)
}

func createCharacter(t *testing.T, h *harness) models.Character {
	t.Helper()
	c, err := h.ws.CreateCharacter(context.Background(), CharacterForm{Name: "Mira", Photo: photoURI(t)})
	require.NoError(t, err)
	h.flush(t)
	return c
}

func TestDeleteOnlyChatSessionStartsFreshOne(t *testing.T) {
	h := newHarness(t, "u1")
	c := createCharacter(t, h)
	only := c.ActiveChatSessionID

	got, err := h.ws.DeleteChatSession(context.Background(), c.ID, only)
	require.NoError(t, err)

	require.Len(t, got.ChatSessions, 1)
	assert.NotEqual(t, only, got.ChatSessions[0].ID)
	assert.Equal(t, got.ChatSessions[0].ID, got.ActiveChatSessionID)
	assert.Empty(t, got.ChatSessions[0].Messages)
}

func TestDeleteActiveChatSessionActivatesMostRecent(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	c := createCharacter(t, h)
	first := c.ActiveChatSessionID

	second, err := h.ws.NewChatSession(ctx, c.ID)
	require.NoError(t, err)
	third, err := h.ws.NewChatSession(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, h.ws.SelectChatSession(ctx, c.ID, second.ID))

	got, err := h.ws.DeleteChatSession(ctx, c.ID, second.ID)
	require.NoError(t, err)
	assert.Len(t, got.ChatSessions, 2)
	assert.Equal(t, third.ID, got.ActiveChatSessionID)
	assert.NotNil(t, got.Session(first))
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	c := createCharacter(t, h)

	p, err := h.ws.CreatePersona(ctx, PersonaForm{Name: "Sam", Description: "a sailor"})
	require.NoError(t, err)
	require.NoError(t, h.ws.SetActivePersona(ctx, p.ID))
	h.flush(t)

	reply, err := h.ws.SendMessage(ctx, c.ID, "hello there")
	require.NoError(t, err)
	assert.Equal(t, models.RoleModel, reply.Role)
	assert.NotEmpty(t, reply.Text)

	_, replies := h.gen.Calls()
	require.Equal(t, 1, replies)
	req := h.gen.ReplyCalls[0]
	require.NotNil(t, req.Persona)
	assert.Equal(t, "Sam", req.Persona.Name)
	assert.Empty(t, req.History)
	assert.Equal(t, "hello there", req.Message)

	got, err := h.ws.Character(ctx, c.ID)
	require.NoError(t, err)
	msgs := got.ActiveSession().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleModel, msgs[1].Role)

	require.NoError(t, h.ws.ClearChat(ctx, c.ID))
	got, err = h.ws.Character(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ActiveSession().Messages)
}

func TestSendMessageFailureKeepsUserMessage(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	c := createCharacter(t, h)
	h.gen.ReplyErr = errors.New("model overloaded")
	sub := h.bus.SubscribeUser("u1", 4)
	defer sub.Close()

	_, err := h.ws.SendMessage(ctx, c.ID, "anyone home?")
	require.ErrorIs(t, err, llm.ErrGenerationFailed)
	ev := <-sub.C
	assert.Equal(t, events.TitleGenerationFailed, ev.Notification.Title)

	got, err := h.ws.Character(ctx, c.ID)
	require.NoError(t, err)
	msgs := got.ActiveSession().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "anyone home?", msgs[0].Text)
}

func TestDeleteOnlyPersonaClearsActive(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	p, err := h.ws.CreatePersona(ctx, PersonaForm{Name: "Sam"})
	require.NoError(t, err)
	require.NoError(t, h.ws.SetActivePersona(ctx, p.ID))
	h.flush(t)
	assert.Equal(t, p.ID, h.state(t).ActivePersonaID)

	require.NoError(t, h.ws.DeletePersona(ctx, p.ID))
	s := h.state(t)
	assert.Empty(t, s.ActivePersonaID)
	assert.Nil(t, s.ActivePersona())

	h.flush(t)
	s = h.state(t)
	assert.Empty(t, s.Personas)
	assert.Empty(t, s.ActivePersonaID)
}

func TestAtMostOneActivePersonaIsStored(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	a, err := h.ws.CreatePersona(ctx, PersonaForm{Name: "A"})
	require.NoError(t, err)
	b, err := h.ws.CreatePersona(ctx, PersonaForm{Name: "B"})
	require.NoError(t, err)
	h.flush(t)

	require.NoError(t, h.ws.SetActivePersona(ctx, a.ID))
	h.flush(t)
	require.NoError(t, h.ws.SetActivePersona(ctx, b.ID))
	h.flush(t)

	snap, err := h.store.List(ctx, "u1", keys.Personas)
	require.NoError(t, err)
	ps, err := store.Decode[models.UserPersona](snap)
	require.NoError(t, err)
	active := 0
	for _, p := range ps {
		if p.IsActive {
			active++
			assert.Equal(t, b.ID, p.ID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestWriteFailurePublishesOnePermissionError(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	sub := h.bus.SubscribeUser("u1", 8)
	defer sub.Close()

	h.mem.FailNextWrite(errors.New("missing or insufficient permissions"))
	p, err := h.ws.CreatePersona(ctx, PersonaForm{Name: "Sam"})
	require.NoError(t, err)
	h.flush(t)

	ev := <-sub.C
	require.Equal(t, events.KindPermissionError, ev.Kind)
	assert.Equal(t, events.MethodWrite, ev.PermissionError.Context.Method)
	assert.Equal(t, "/users/u1/personas/"+p.ID, ev.PermissionError.Context.Path)
	assert.Equal(t, uint64(1), h.bus.Count(events.KindPermissionError))

	// no rollback: the optimistic persona is still there
	_, ok := h.state(t).Persona(p.ID)
	assert.True(t, ok)

	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected second event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestToggleTheme(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	assert.Equal(t, models.ThemeLight, h.state(t).Settings.Theme)

	theme, err := h.ws.ToggleTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeDark, theme)
	h.flush(t)

	var stored models.Settings
	require.NoError(t, h.store.Get(ctx, "u1", keys.Settings, models.SettingsDocID, &stored))
	assert.Equal(t, models.ThemeDark, stored.Theme)
}

func TestToggleThemeAnonymous(t *testing.T) {
	h := newHarness(t, "u1")
	anon, err := Open(context.Background(), "", h.deps)
	require.NoError(t, err)
	defer anon.Close()
	sub := h.bus.SubscribeUser("", 4)
	defer sub.Close()

	_, err = anon.ToggleTheme(context.Background())
	require.ErrorIs(t, err, ErrNotLoggedIn)

	ev := <-sub.C
	require.Equal(t, events.KindNotification, ev.Kind)
	assert.Equal(t, events.TitleNotLoggedIn, ev.Notification.Title)

	s, err := anon.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ThemeLight, s.Settings.Theme)
	assert.Zero(t, h.queue.Stats().Enqueued)
	assert.Zero(t, h.mem.Len())
}

func TestExternalWritesReplaceLocalState(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	p := models.UserPersona{ID: "p-ext", Name: "Remote", IsActive: true}
	require.NoError(t, h.store.Set(ctx, "u1", keys.Personas, p.ID, p))

	require.Eventually(t, func() bool {
		return h.state(t).ActivePersonaID == "p-ext"
	}, time.Second, 5*time.Millisecond)
}

func TestWatchReceivesChanges(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()
	wt, err := h.ws.Watch(ctx)
	require.NoError(t, err)
	defer wt.Close()

	first := <-wt.C
	assert.True(t, first.Loaded.Personas)

	_, err = h.ws.CreatePersona(ctx, PersonaForm{Name: "Sam"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case s := <-wt.C:
			return len(s.Personas) == 1
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestAnonymousOperationsNeedLogin(t *testing.T) {
	h := newHarness(t, "u1")
	anon, err := Open(context.Background(), "", h.deps)
	require.NoError(t, err)
	defer anon.Close()
	ctx := context.Background()

	_, err = anon.CreateCharacter(ctx, CharacterForm{Name: "x"})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = anon.CreatePersona(ctx, PersonaForm{Name: "x"})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, anon.SetActivePersona(ctx, ""), ErrNotLoggedIn)
	_, err = anon.SendMessage(ctx, "c", "hi")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestClosedWorkspaceRejects(t *testing.T) {
	h := newHarness(t, "u1")
	h.ws.Close()
	_, err := h.ws.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
