// Package progressor stamps the data directory with its layout version and
// runs the upgrades between layouts at startup.
package progressor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/state"
	"charhub/pkg/timeutil"
)

// LayoutVersion is the on-disk layout this build reads and writes.
const LayoutVersion = 1

const (
	versionFile    = "version.json"
	inProgressFile = "migration_in_progress.json"
)

var ErrNewerLayout = errors.New("data directory was written by a newer layout")

type stamp struct {
	Layout    int       `json:"layout"`
	App       string    `json:"app"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type marker struct {
	From      int       `json:"from"`
	To        int       `json:"to"`
	StartedAt time.Time `json:"startedAt"`
}

// Migration upgrades the directory to the layout it is registered under. It
// must be idempotent: an interrupted run is retried from the start.
type Migration func(ctx context.Context, dbPath string) error

// migrations maps a target layout to its upgrade.
var migrations = map[int]Migration{}

// Run brings dbPath to LayoutVersion and records appVersion. It reports
// whether any migration ran.
func Run(ctx context.Context, dbPath, appVersion string) (bool, error) {
	dir := state.PathsFor(dbPath).State
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, err
	}

	from, found, err := storedLayout(dir)
	if err != nil {
		return false, err
	}
	if !found {
		// fresh directory
		logger.Info("progressor_stamp_created", "layout", LayoutVersion)
		return false, writeJSON(dir, versionFile, stamp{Layout: LayoutVersion, App: appVersion, UpdatedAt: timeutil.Now()})
	}
	if from > LayoutVersion {
		return false, fmt.Errorf("%w: have %d, support %d", ErrNewerLayout, from, LayoutVersion)
	}

	var m marker
	if err := readJSON(dir, inProgressFile, &m); err == nil {
		logger.Warn("progressor_resuming_interrupted", "from", m.From, "to", m.To, "started_at", m.StartedAt)
		from = m.From
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	migrated := false
	for v := from + 1; v <= LayoutVersion; v++ {
		mig, ok := migrations[v]
		if !ok {
			continue
		}
		if err := writeJSON(dir, inProgressFile, marker{From: from, To: LayoutVersion, StartedAt: timeutil.Now()}); err != nil {
			return migrated, fmt.Errorf("write in-progress marker: %w", err)
		}
		logger.Info("migration_start", "to", v)
		if err := mig(ctx, dbPath); err != nil {
			logger.Error("migration_failed", "to", v, "error", err)
			return migrated, fmt.Errorf("migrate to layout %d: %w", v, err)
		}
		migrated = true
		logger.Info("migration_done", "to", v)
	}

	if err := writeJSON(dir, versionFile, stamp{Layout: LayoutVersion, App: appVersion, UpdatedAt: timeutil.Now()}); err != nil {
		return migrated, fmt.Errorf("failed to persist layout version: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, inProgressFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("progressor_delete_inprogress_failed", "error", err)
	}
	return migrated, nil
}

func storedLayout(dir string) (int, bool, error) {
	var s stamp
	err := readJSON(dir, versionFile, &s)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read layout version: %w", err)
	}
	return s.Layout, true, nil
}

func readJSON(dir, name string, v any) error {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func writeJSON(dir, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}
