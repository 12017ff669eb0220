// Package wally journals accepted queue ops in pebble, keyed by sequence, so
// ops that were accepted but never applied survive a restart.
package wally

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
)

const (
	keyLowerBound = "00000000000000000000"
	keyUpperBound = "99999999999999999999"
)

var ErrClosed = errors.New("wal closed")

type Options struct {
	// NoSync skips fsync on every append. Faster, loses the tail on power failure.
	NoSync bool
}

type Log struct {
	mu     sync.RWMutex
	db     *pebble.DB
	path   string
	opts   Options
	closed bool
}

func Open(path string, opts Options) (*Log, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble wal: %w", err)
	}
	return &Log{path: path, opts: opts, db: db}, nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	return l.db.Close()
}

func key(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

func (l *Log) Append(seq uint64, data []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.Set(key(seq), data, l.writeOpts())
}

// Remove drops an applied entry. Removal is not synced; a lost removal only
// means one extra replay.
func (l *Log) Remove(seq uint64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.Delete(key(seq), pebble.NoSync)
}

func (l *Log) iter() (*pebble.Iterator, error) {
	return l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyLowerBound),
		UpperBound: []byte(keyUpperBound),
	})
}

// LastIndex is the highest journaled sequence, or 0 when empty.
func (l *Log) LastIndex() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	it, err := l.iter()
	if err != nil {
		return 0, fmt.Errorf("create iterator: %w", err)
	}
	defer it.Close()
	if !it.Last() {
		return 0, nil
	}
	return strconv.ParseUint(string(it.Key()), 10, 64)
}

// Replay calls fn for every entry with seq <= upTo in sequence order. An
// error from fn stops the replay.
func (l *Log) Replay(upTo uint64, fn func(seq uint64, data []byte) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	it, err := l.iter()
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		seq, err := strconv.ParseUint(string(it.Key()), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt wal key %q: %w", it.Key(), err)
		}
		if seq > upTo {
			break
		}
		// pebble reuses the value buffer
		data := append([]byte(nil), it.Value()...)
		if err := fn(seq, data); err != nil {
			return err
		}
	}
	return nil
}

// Len counts journaled entries.
func (l *Log) Len() (int, error) {
	n := 0
	err := l.Replay(^uint64(0), func(uint64, []byte) error { n++; return nil })
	return n, err
}

func (l *Log) writeOpts() *pebble.WriteOptions {
	if l.opts.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}
