package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EnsureStateDirs creates the runtime folder layout under dbPath. Each folder must be a
// real directory (not a symlink) and writable.
func EnsureStateDirs(dbPath string) error {
	p := PathsFor(dbPath)
	paths := []string{p.Store, p.Identity, p.Audit, p.Retention, p.Tmp, p.Tel, p.Logs}

	for _, path := range paths {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", path, err)
		}

		if fi, err := os.Lstat(path); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", path)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", path)
			}
		}

		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", path, err)
		}

		tmp, err := os.CreateTemp(path, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", path, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return nil
}

var (
	PathsVar Paths
	initOnce sync.Once
	initErr  error
)

// Init resolves and creates the layout once; later calls return the first result.
func Init(dbPath string) error {
	initOnce.Do(func() {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = "./.database"
		}
		path = filepath.Clean(path)
		PathsVar = PathsFor(path)
		initErr = EnsureStateDirs(path)
	})
	return initErr
}
