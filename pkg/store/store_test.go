package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"charhub/pkg/store/db/memdb"
	"charhub/pkg/store/keys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type persona struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

func recv(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestSetGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New(memdb.New())

	require.NoError(t, s.Set(ctx, "u1", keys.Personas, "p1", persona{ID: "p1", Name: "Ada"}))
	require.NoError(t, s.Update(ctx, "u1", keys.Personas, "p1", map[string]any{"isActive": true}))

	var got persona
	require.NoError(t, s.Get(ctx, "u1", keys.Personas, "p1", &got))
	assert.Equal(t, persona{ID: "p1", Name: "Ada", IsActive: true}, got)

	require.NoError(t, s.Delete(ctx, "u1", keys.Personas, "p1"))
	assert.ErrorIs(t, s.Get(ctx, "u1", keys.Personas, "p1", &got), ErrNotFound)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Sets)
	assert.Equal(t, uint64(1), st.Updates)
	assert.Equal(t, uint64(1), st.Deletes)
}

func TestUpdateMissingDocumentFails(t *testing.T) {
	s := New(memdb.New())
	err := s.Update(context.Background(), "u1", keys.Personas, "nope", map[string]any{"name": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, uint64(1), s.Stats().Failures)
}

func TestSetRejectsNonObjectsAndBadNames(t *testing.T) {
	ctx := context.Background()
	s := New(memdb.New())

	assert.ErrorIs(t, s.Set(ctx, "u1", keys.Personas, "p1", []string{"a"}), ErrNotObject)
	assert.ErrorIs(t, s.Set(ctx, "u1", keys.Personas, "p1", json.RawMessage(`null`)), ErrNotObject)
	assert.ErrorIs(t, s.Set(ctx, "u1", "notes", "p1", persona{}), ErrUnknownCollection)
	assert.ErrorIs(t, s.Set(ctx, "u1", keys.Personas, "a/b", persona{}), ErrInvalidID)

	_, err := s.Subscribe(ctx, "u1", "notes")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestSubscribeDeliversInitialAndLatest(t *testing.T) {
	ctx := context.Background()
	s := New(memdb.New())
	require.NoError(t, s.Set(ctx, "u1", keys.Personas, "p1", persona{ID: "p1"}))

	sub, err := s.Subscribe(ctx, "u1", keys.Personas)
	require.NoError(t, err)
	defer sub.Close()

	initial := recv(t, sub)
	assert.Len(t, initial.Docs, 1)
	assert.Equal(t, uint64(0), initial.Version)

	// nobody reads while three writes land; only the newest snapshot is kept
	require.NoError(t, s.Set(ctx, "u1", keys.Personas, "p2", persona{ID: "p2"}))
	require.NoError(t, s.Set(ctx, "u1", keys.Personas, "p3", persona{ID: "p3"}))
	require.NoError(t, s.Delete(ctx, "u1", keys.Personas, "p1"))

	latest := recv(t, sub)
	assert.Equal(t, uint64(3), latest.Version)
	got, err := Decode[persona](latest)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].ID)
	assert.Equal(t, "p3", got[1].ID)
	assert.Empty(t, sub.C)
}

func TestSubscriptionsAreScoped(t *testing.T) {
	ctx := context.Background()
	s := New(memdb.New())

	sub, err := s.Subscribe(ctx, "u1", keys.Characters)
	require.NoError(t, err)
	defer sub.Close()
	recv(t, sub)

	require.NoError(t, s.Set(ctx, "u2", keys.Characters, "c1", persona{ID: "c1"}))
	require.NoError(t, s.Set(ctx, "u1", keys.Personas, "p1", persona{ID: "p1"}))
	assert.Empty(t, sub.C)
}

func TestFailedWriteDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	mem := memdb.New()
	s := New(mem)
	sub, err := s.Subscribe(ctx, "u1", keys.Personas)
	require.NoError(t, err)
	defer sub.Close()
	recv(t, sub)

	mem.FailNextWrite(errors.New("denied"))
	require.Error(t, s.Set(ctx, "u1", keys.Personas, "p1", persona{ID: "p1"}))
	assert.Empty(t, sub.C)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New(memdb.New())
	sub, err := s.Subscribe(ctx, "u1", keys.Settings)
	require.NoError(t, err)
	recv(t, sub)
	assert.Equal(t, 1, s.Stats().Subscriptions)

	require.NoError(t, s.Close())
	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Close()
	assert.False(t, s.Ready())
}
