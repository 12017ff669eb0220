package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charhub/pkg/events"
	"charhub/pkg/ingest/wally"
	"charhub/pkg/store"
	"charhub/pkg/store/db/memdb"
	"charhub/pkg/store/keys"
)

func TestJournalReplaysUnappliedOps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	st := store.New(memdb.New())
	defer st.Close()
	bus := events.NewBus(16)

	j, err := wally.Open(dir, wally.Options{NoSync: true})
	require.NoError(t, err)
	// accepted but never started: the process dies with ops in flight
	crashed := NewIngestQueue(Options{Store: st, Bus: bus, Journal: j})
	crashed.Set("u1", keys.Personas, "p1", doc{ID: "p1", Name: "Ada"})
	crashed.Update("u1", keys.Personas, "p1", map[string]any{"name": "Grace"})
	require.NoError(t, j.Close())

	j, err = wally.Open(dir, wally.Options{NoSync: true})
	require.NoError(t, err)
	defer j.Close()

	q := NewIngestQueue(Options{Store: st, Bus: bus, Journal: j, WriteTimeout: time.Second})
	q.Set("u1", keys.Personas, "p2", doc{ID: "p2", Name: "Lin"})
	q.Start()
	q.Close()

	var got doc
	require.NoError(t, st.Get(context.Background(), "u1", keys.Personas, "p1", &got))
	assert.Equal(t, "Grace", got.Name)
	require.NoError(t, st.Get(context.Background(), "u1", keys.Personas, "p2", &got))
	assert.Equal(t, "Lin", got.Name)

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Recovered)
	assert.Equal(t, uint64(3), stats.Applied)

	n, err := j.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, bus.Count(events.KindPermissionError))
}

func TestJournalForgetsDroppedOps(t *testing.T) {
	j, err := wally.Open(filepath.Join(t.TempDir(), "journal"), wally.Options{NoSync: true})
	require.NoError(t, err)
	defer j.Close()

	st := store.New(memdb.New())
	defer st.Close()
	q := NewIngestQueue(Options{Capacity: 1, Store: st, Bus: events.NewBus(4), Journal: j})
	q.Delete("u1", keys.Personas, "a")
	q.Delete("u1", keys.Personas, "b")

	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q.Start()
	q.Close()
	n, err = j.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}
