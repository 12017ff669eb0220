// Package retention purges identity sessions that expired more than a
// retention period ago, on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"charhub/pkg/config"
	"charhub/pkg/logger"
	"charhub/pkg/timeutil"
)

// ErrRunning is returned by RunImmediate while another run is in progress.
var ErrRunning = errors.New("retention run already in progress")

// Sessions is the identity store surface the purge needs.
type Sessions interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
	CountExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report describes one run.
type Report struct {
	RunID   string    `json:"runId"`
	DryRun  bool      `json:"dryRun"`
	Cutoff  time.Time `json:"cutoff"`
	Expired int64     `json:"expired"`
	Purged  int64     `json:"purged"`
	// Skipped is set when another process held the lease.
	Skipped bool `json:"skipped,omitempty"`
}

type Manager struct {
	cfg      config.RetentionConfig
	period   time.Duration
	sessions Sessions
	lease    *fileLease

	mu      sync.Mutex
	running bool
	last    *Report

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a manager. auditDir holds the lease file.
func New(cfg config.RetentionConfig, auditDir string, sessions Sessions) (*Manager, error) {
	period, err := config.ParseRetentionPeriod(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("retention period: %w", err)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = config.Duration(5 * time.Minute)
	}
	return &Manager{cfg: cfg, period: period, sessions: sessions, lease: newFileLease(auditDir)}, nil
}

// Start runs the cron schedule until Stop. It is a no-op when retention is disabled.
func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		logger.Info("retention_disabled")
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	logger.Info("retention_enabled", "cron", m.cfg.Cron, "period", m.cfg.Period, "dry_run", m.cfg.DryRun)
	go m.scheduleLoop(ctx)
}

// Stop ends the schedule and waits for the loop to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Last returns the latest finished run, if any.
func (m *Manager) Last() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

// RunImmediate runs a purge now. dryRun only counts.
func (m *Manager) RunImmediate(ctx context.Context, dryRun bool) (Report, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Report{}, ErrRunning
	}
	m.running = true
	m.mu.Unlock()

	rep, err := m.runOnce(ctx, dryRun)

	m.mu.Lock()
	m.running = false
	if err == nil {
		m.last = &rep
	}
	m.mu.Unlock()
	return rep, err
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	defer close(m.done)
	for {
		next, err := gronx.NextTickAfter(m.cfg.Cron, timeutil.Now(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if _, err := m.RunImmediate(ctx, m.cfg.DryRun); err != nil && !errors.Is(err, ErrRunning) {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
