package storedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"charhub/pkg/store/db"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	d := openTemp(t)

	require.NoError(t, d.Put(ctx, "u1", keys.Characters, "c1", []byte(`{"id":"c1"}`)))
	body, err := d.Get(ctx, "u1", keys.Characters, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1"}`, string(body))

	require.NoError(t, d.Delete(ctx, "u1", keys.Characters, "c1"))
	_, err = d.Get(ctx, "u1", keys.Characters, "c1")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.True(t, IsNotFound(err))

	// deleting a missing document is not an error
	require.NoError(t, d.Delete(ctx, "u1", keys.Characters, "c1"))
}

func TestListIsScopedToUserCollection(t *testing.T) {
	ctx := context.Background()
	d := openTemp(t)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	restore := timeutil.SetClock(func() time.Time { return fixed })
	defer restore()

	require.NoError(t, d.Put(ctx, "u1", keys.Personas, "b", []byte(`{"id":"b"}`)))
	require.NoError(t, d.Put(ctx, "u1", keys.Personas, "a", []byte(`{"id":"a"}`)))
	require.NoError(t, d.Put(ctx, "u1", keys.Characters, "x", []byte(`{}`)))
	require.NoError(t, d.Put(ctx, "u10", keys.Personas, "z", []byte(`{}`)))

	recs, err := d.List(ctx, "u1", keys.Personas)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
	assert.True(t, fixed.Equal(recs[0].UpdatedAt))

	empty, err := d.List(ctx, "u2", keys.Personas)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestScanAndClosed(t *testing.T) {
	ctx := context.Background()
	d := openTemp(t)
	require.NoError(t, d.Put(ctx, "u1", keys.Settings, "preferences", []byte(`{"theme":"dark"}`)))

	var seen []string
	require.NoError(t, d.Scan("u:u1:", func(e Entry) bool {
		seen = append(seen, e.Key)
		return true
	}))
	assert.Equal(t, []string{"u:u1:c:settings:d:preferences"}, seen)

	require.NoError(t, d.Close())
	assert.False(t, d.Ready())
	assert.ErrorIs(t, d.Put(ctx, "u1", keys.Settings, "preferences", nil), db.ErrClosed)
}

func TestInvalidKeysRejected(t *testing.T) {
	d := openTemp(t)
	err := d.Put(context.Background(), "u1", "notes", "a", []byte(`{}`))
	assert.ErrorIs(t, err, keys.ErrUnknownCollection)
}
