package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charhub/pkg/state"
)

func TestRunKeepsGoingAfterFailure(t *testing.T) {
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Fn: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}
	boom := errors.New("boom")

	err := Run(context.Background(), []Step{
		step("http", nil),
		step("queue", boom),
		{Name: "skipped"},
		step("store", nil),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "queue")
	assert.Equal(t, []string{"http", "queue", "store"}, order)
}

func TestRunAfterDeadlineStillRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	require.NoError(t, Run(ctx, []Step{{Name: "store", Fn: func(context.Context) error { ran = true; return nil }}}))
	assert.True(t, ran)
}

func TestAbortWritesLogAndExits(t *testing.T) {
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	db := t.TempDir()
	Abort("failed to open store", errors.New("locked"), db)

	assert.Equal(t, 1, code)
	b, err := os.ReadFile(filepath.Join(state.PathsFor(db).Logs, "abort.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "failed to open store: locked")
}

func TestSetupSignalHandlerCancel(t *testing.T) {
	ctx, cancel := SetupSignalHandler(context.Background())
	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
