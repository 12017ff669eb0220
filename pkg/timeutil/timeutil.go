package timeutil

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	nowFn = time.Now
)

// Now returns the current time from the installed clock.
func Now() time.Time {
	mu.RLock()
	fn := nowFn
	mu.RUnlock()
	return fn()
}

// SetClock replaces the clock used by Now and returns a func restoring the previous one.
func SetClock(fn func() time.Time) (restore func()) {
	mu.Lock()
	prev := nowFn
	nowFn = fn
	mu.Unlock()
	return func() {
		mu.Lock()
		nowFn = prev
		mu.Unlock()
	}
}
