package memdb

import (
	"context"
	"errors"
	"testing"

	"charhub/pkg/store/db"
	"charhub/pkg/store/keys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailNextWriteIsOneShot(t *testing.T) {
	ctx := context.Background()
	d := New()
	boom := errors.New("boom")
	d.FailNextWrite(boom)

	assert.ErrorIs(t, d.Put(ctx, "u1", keys.Personas, "p1", []byte(`{}`)), boom)
	require.NoError(t, d.Put(ctx, "u1", keys.Personas, "p1", []byte(`{}`)))
	assert.Equal(t, 1, d.Len())
}

func TestFailWritesSticks(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.Put(ctx, "u1", keys.Personas, "p1", []byte(`{}`)))
	d.FailWrites(errors.New("denied"))

	assert.Error(t, d.Put(ctx, "u1", keys.Personas, "p2", []byte(`{}`)))
	assert.Error(t, d.Delete(ctx, "u1", keys.Personas, "p1"))
	d.FailWrites(nil)
	require.NoError(t, d.Delete(ctx, "u1", keys.Personas, "p1"))

	_, err := d.Get(ctx, "u1", keys.Personas, "p1")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListOrdersAndScopes(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.Put(ctx, "u1", keys.Characters, "b", []byte(`1`)))
	require.NoError(t, d.Put(ctx, "u1", keys.Characters, "a", []byte(`2`)))
	require.NoError(t, d.Put(ctx, "u2", keys.Characters, "c", []byte(`3`)))

	recs, err := d.List(ctx, "u1", keys.Characters)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}
