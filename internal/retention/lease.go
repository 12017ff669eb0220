package retention

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/timeutil"
)

var errNotOwner = errors.New("lease not owned")

// fileLease is a lock file under the audit directory that keeps two
// processes sharing a data directory from purging at the same time.
type fileLease struct {
	path string
}

type leaseFile struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

func newFileLease(dir string) *fileLease {
	return &fileLease{path: filepath.Join(dir, "retention.lock")}
}

func (l *fileLease) read() (leaseFile, error) {
	var lf leaseFile
	data, err := os.ReadFile(l.path)
	if err != nil {
		return lf, err
	}
	if err := json.Unmarshal(data, &lf); err != nil {
		return lf, fmt.Errorf("corrupt lease %s: %w", l.path, err)
	}
	return lf, nil
}

func (l *fileLease) writeTmp(lf leaseFile) (string, error) {
	b, err := json.Marshal(lf)
	if err != nil {
		return "", err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return "", err
	}
	return tmp, nil
}

// Acquire takes the lease unless another owner holds an unexpired one.
func (l *fileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	now := timeutil.Now()
	tmp, err := l.writeTmp(leaseFile{Owner: owner, Expires: now.Add(ttl)})
	if err != nil {
		logger.Error("lease_tmp_write_failed", "path", l.path, "error", err)
		return false, err
	}
	// link fails when the lock exists, which makes creation atomic
	if err := os.Link(tmp, l.path); err == nil {
		_ = os.Remove(tmp)
		logger.Debug("lease_acquired", "path", l.path, "owner", owner)
		return true, nil
	}
	existing, err := l.read()
	if err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if existing.Expires.Before(now) {
		if err := os.Rename(tmp, l.path); err != nil {
			logger.Error("lease_replace_failed", "error", err)
			return false, err
		}
		logger.Info("lease_taken_over", "path", l.path, "owner", owner, "previous", existing.Owner)
		return true, nil
	}
	_ = os.Remove(tmp)
	logger.Info("lease_held", "path", l.path, "holder", existing.Owner)
	return false, nil
}

// Renew pushes the expiry forward. Only the owner may renew.
func (l *fileLease) Renew(owner string, ttl time.Duration) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return errNotOwner
	}
	existing.Expires = timeutil.Now().Add(ttl)
	tmp, err := l.writeTmp(existing)
	if err != nil {
		logger.Error("lease_renew_tmp_write_failed", "error", err)
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *fileLease) Release(owner string) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		logger.Error("lease_release_not_owner", "owner", owner, "holder", existing.Owner)
		return errNotOwner
	}
	return os.Remove(l.path)
}
