// Package shutdown owns process teardown: signal handling, ordered component
// shutdown and fatal startup aborts.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/state"
	"charhub/pkg/timeutil"
)

// Step is one teardown action. Steps run in order.
type Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Run executes every step even when earlier ones fail or ctx expires, so that
// stores are always closed. Errors are joined.
func Run(ctx context.Context, steps []Step) error {
	logger.Info("shutdown_requested", "steps", len(steps))
	var errs []error
	for _, s := range steps {
		if s.Fn == nil {
			continue
		}
		if ctx.Err() != nil {
			logger.Warn("shutdown_deadline_passed", "step", s.Name)
		}
		logger.Info("shutdown_step", "step", s.Name)
		if err := s.Fn(ctx); err != nil {
			logger.Error("shutdown_step_failed", "step", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	logger.Info("shutdown_complete")
	return errors.Join(errs...)
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a context cancelled when any of them arrives.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	// SIGPIPE dumps goroutine stacks before shutting down
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}

var exit = os.Exit

// Abort reports a fatal startup error on stderr and in the log, appends it to
// <db>/state/logs/abort.log when dbPath is set, then exits with status 1.
func Abort(msg string, err error, dbPath string) {
	line := msg
	if err != nil {
		line = fmt.Sprintf("%s: %v", msg, err)
	}
	fmt.Fprintln(os.Stderr, line)
	logger.Error("abort", "msg", msg, "error", err)

	if dbPath != "" {
		dir := state.PathsFor(dbPath).Logs
		if mkErr := os.MkdirAll(dir, 0o700); mkErr == nil {
			if f, openErr := os.OpenFile(filepath.Join(dir, "abort.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); openErr == nil {
				fmt.Fprintf(f, "%s %s\n", timeutil.Now().UTC().Format(time.RFC3339), line)
				f.Close()
			}
		}
	}
	logger.Sync()
	exit(1)
}
