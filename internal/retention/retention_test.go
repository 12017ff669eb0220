package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"charhub/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSessions struct {
	expired int64
	purged  atomic.Int64
	cutoff  time.Time
	err     error
}

func (f *fakeSessions) CountExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.expired, nil
}

func (f *fakeSessions) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.purged.Add(f.expired)
	return f.expired, nil
}

func newManager(t *testing.T, s Sessions) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := New(config.RetentionConfig{Period: "7d", Cron: "0 3 * * *"}, dir, s)
	require.NoError(t, err)
	return m, dir
}

func TestRunImmediatePurges(t *testing.T) {
	s := &fakeSessions{expired: 3}
	m, dir := newManager(t, s)

	rep, err := m.RunImmediate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.Expired)
	assert.Equal(t, int64(3), rep.Purged)
	assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), rep.Cutoff, time.Minute)
	assert.Equal(t, int64(3), s.purged.Load())

	_, err = os.Stat(filepath.Join(dir, "retention.lock"))
	assert.True(t, os.IsNotExist(err), "lease released")
	require.NotNil(t, m.Last())
	assert.Equal(t, rep.RunID, m.Last().RunID)
}

func TestRunImmediateDryRunOnlyCounts(t *testing.T) {
	s := &fakeSessions{expired: 2}
	m, _ := newManager(t, s)

	rep, err := m.RunImmediate(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, int64(2), rep.Expired)
	assert.Zero(t, rep.Purged)
	assert.Zero(t, s.purged.Load())
}

func TestRunImmediatePurgeError(t *testing.T) {
	s := &fakeSessions{expired: 1, err: errors.New("disk full")}
	m, _ := newManager(t, s)
	_, err := m.RunImmediate(context.Background(), false)
	assert.ErrorContains(t, err, "disk full")
	assert.Nil(t, m.Last())
}

func TestRunSkipsWhenLeaseHeld(t *testing.T) {
	m, dir := newManager(t, &fakeSessions{})
	other := newFileLease(dir)
	ok, err := other.Acquire("other", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := m.RunImmediate(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}

func TestLeaseLifecycle(t *testing.T) {
	l := newFileLease(t.TempDir())

	ok, err := l.Acquire("a", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire("b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, l.Renew("b", time.Hour), errNotOwner)
	require.NoError(t, l.Renew("a", time.Hour))
	assert.ErrorIs(t, l.Release("b"), errNotOwner)
	require.NoError(t, l.Release("a"))

	ok, err = l.Acquire("b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	l := newFileLease(t.TempDir())
	ok, err := l.Acquire("a", -time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire("b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStartStop(t *testing.T) {
	m, _ := newManager(t, &fakeSessions{})
	m.cfg.Enabled = true
	m.Start(context.Background())
	m.Stop()

	disabled, _ := newManager(t, &fakeSessions{})
	disabled.Start(context.Background())
	disabled.Stop()
}

func TestNewRejectsBadPeriod(t *testing.T) {
	_, err := New(config.RetentionConfig{Period: "soon"}, t.TempDir(), &fakeSessions{})
	assert.Error(t, err)
}
