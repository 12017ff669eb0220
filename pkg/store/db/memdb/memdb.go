// Package memdb is an in-process document backend for ephemeral runs and tests.
package memdb

import (
	"context"
	"sort"
	"sync"

	"charhub/pkg/store/db"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"
)

type DB struct {
	mu       sync.RWMutex
	docs     map[string]db.Record
	closed   bool
	writeErr error
	failNext []error
}

func New() *DB {
	return &DB{docs: make(map[string]db.Record)}
}

// FailWrites makes every Put and Delete return err until called again with nil.
func (d *DB) FailWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// FailNextWrite makes the next write return err.
func (d *DB) FailNextWrite(err error) {
	d.mu.Lock()
	d.failNext = append(d.failNext, err)
	d.mu.Unlock()
}

func (d *DB) writeFailure() error {
	if len(d.failNext) > 0 {
		err := d.failNext[0]
		d.failNext = d.failNext[1:]
		return err
	}
	return d.writeErr
}

func (d *DB) Get(ctx context.Context, user, collection, id string) ([]byte, error) {
	key, err := keys.GenDocKey(user, collection, id)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, db.ErrClosed
	}
	rec, ok := d.docs[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return append([]byte(nil), rec.Body...), nil
}

func (d *DB) Put(ctx context.Context, user, collection, id string, body []byte) error {
	key, err := keys.GenDocKey(user, collection, id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return db.ErrClosed
	}
	if err := d.writeFailure(); err != nil {
		return err
	}
	d.docs[key] = db.Record{ID: id, Body: append([]byte(nil), body...), UpdatedAt: timeutil.Now()}
	return nil
}

func (d *DB) Delete(ctx context.Context, user, collection, id string) error {
	key, err := keys.GenDocKey(user, collection, id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return db.ErrClosed
	}
	if err := d.writeFailure(); err != nil {
		return err
	}
	delete(d.docs, key)
	return nil
}

func (d *DB) List(ctx context.Context, user, collection string) ([]db.Record, error) {
	prefix, err := keys.GenCollectionPrefix(user, collection)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, db.ErrClosed
	}
	var ks []string
	for k := range d.docs {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			ks = append(ks, k)
		}
	}
	sort.Strings(ks)
	out := make([]db.Record, 0, len(ks))
	for _, k := range ks {
		rec := d.docs[k]
		rec.Body = append([]byte(nil), rec.Body...)
		out = append(out, rec)
	}
	return out, nil
}

func (d *DB) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.closed
}

func (d *DB) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Len reports the number of stored documents.
func (d *DB) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}
