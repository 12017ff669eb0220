package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"charhub/pkg/logger"
	"charhub/pkg/timeutil"
)

const maxConsecutiveRenewFails = 3

// runOnce acquires the lease, keeps it alive while purging and writes the
// audit trail.
func (m *Manager) runOnce(ctx context.Context, dryRun bool) (Report, error) {
	ttl := m.cfg.LockTTL.Duration()
	owner := uuid.NewString()
	rep := Report{RunID: uuid.NewString(), DryRun: dryRun}

	acq, err := m.lease.Acquire(owner, ttl)
	if err != nil {
		return rep, fmt.Errorf("lease acquire failed: %w", err)
	}
	if !acq {
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := m.lease.Release(owner); err != nil {
			logger.Error("retention_lease_release_error", "error", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go m.heartbeat(runCtx, runCancel, owner, ttl)

	rep.Cutoff = timeutil.Now().Add(-m.period)
	logger.AuditInfo("retention_audit_header", "run_id", rep.RunID, "started_at", timeutil.Now().Format(time.RFC3339), "dry_run", dryRun, "period", m.cfg.Period, "cutoff", rep.Cutoff.Format(time.RFC3339))

	rep.Expired, err = m.sessions.CountExpired(runCtx, rep.Cutoff)
	if err != nil {
		return rep, fmt.Errorf("count expired sessions: %w", err)
	}
	if !dryRun && rep.Expired > 0 {
		rep.Purged, err = m.sessions.PurgeExpired(runCtx, rep.Cutoff)
		if err != nil {
			logger.AuditInfo("retention_audit_item", "run_id", rep.RunID, "item_type", "session", "status", "failed", "error", err.Error())
			return rep, fmt.Errorf("purge expired sessions: %w", err)
		}
	}
	status := "success"
	if dryRun {
		status = "dry_run"
	}
	logger.AuditInfo("retention_audit_item", "run_id", rep.RunID, "item_type", "session", "status", status, "expired", rep.Expired, "purged", rep.Purged)
	logger.AuditInfo("retention_audit_footer", "run_id", rep.RunID, "expired", rep.Expired, "purged", rep.Purged)
	logger.Info("retention_run_complete", "run_id", rep.RunID, "expired", rep.Expired, "purged", rep.Purged, "dry_run", dryRun)
	return rep, nil
}

// heartbeat renews the lease at a third of its TTL and aborts the run after
// repeated failures.
func (m *Manager) heartbeat(ctx context.Context, abort context.CancelFunc, owner string, ttl time.Duration) {
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.lease.Renew(owner, ttl); err != nil {
				fails++
				logger.Error("retention_lease_renew_failed", "error", err, "count", fails)
				if fails >= maxConsecutiveRenewFails {
					abort()
					return
				}
				continue
			}
			fails = 0
		}
	}
}
