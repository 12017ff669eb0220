// Package storedb is the embedded pebble document backend.
package storedb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/store/db"

	"github.com/cockroachdb/pebble"
)

// DB stores each document under u:<user>:c:<collection>:d:<id>. Values carry an
// 8 byte unix-nano update stamp followed by the JSON body.
type DB struct {
	mu     sync.RWMutex
	client *pebble.DB
	path   string
}

// Open opens or creates the store at path. WAL stays enabled.
func Open(path string) (*DB, error) {
	client, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &DB{client: client, path: path}, nil
}

// OpenReadOnly opens an existing store without taking the write lock path.
func OpenReadOnly(path string) (*DB, error) {
	client, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return &DB{client: client, path: path}, nil
}

func (d *DB) Path() string { return d.path }

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *DB) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client != nil
}

func (d *DB) handle() (*pebble.DB, func(), error) {
	d.mu.RLock()
	if d.client == nil {
		d.mu.RUnlock()
		return nil, nil, db.ErrClosed
	}
	return d.client, d.mu.RUnlock, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound) || errors.Is(err, db.ErrNotFound)
}

func encodeValue(body []byte, at time.Time) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out, uint64(at.UnixNano()))
	copy(out[8:], body)
	return out
}

func decodeValue(v []byte) ([]byte, time.Time, error) {
	if len(v) < 8 {
		return nil, time.Time{}, fmt.Errorf("corrupt value: %d bytes", len(v))
	}
	at := time.Unix(0, int64(binary.BigEndian.Uint64(v[:8]))).UTC()
	body := make([]byte, len(v)-8)
	copy(body, v[8:])
	return body, at, nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
