package workspace

import (
	"context"
	"sync"
)

// Watcher receives the state after every change. Like store subscriptions it
// keeps only the newest pending state.
type Watcher struct {
	C <-chan State

	ch     chan State
	mu     sync.Mutex
	closed bool
	ws     *Workspace
}

// Watch registers a watcher primed with the current state.
func (w *Workspace) Watch(ctx context.Context) (*Watcher, error) {
	ch := make(chan State, 1)
	wt := &Watcher{C: ch, ch: ch, ws: w}
	err := w.do(ctx, func() error {
		w.watchers[wt] = struct{}{}
		wt.offer(w.state.Clone())
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.watching.Add(1)
	return wt, nil
}

func (wt *Watcher) offer(s State) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.closed {
		return
	}
	select {
	case <-wt.ch:
	default:
	}
	wt.ch <- s
}

func (wt *Watcher) shut() bool {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.closed {
		return false
	}
	wt.closed = true
	close(wt.ch)
	return true
}

// Close unregisters the watcher and closes C.
func (wt *Watcher) Close() {
	w := wt.ws
	_ = w.do(context.Background(), func() error {
		delete(w.watchers, wt)
		return nil
	})
	if wt.shut() {
		w.watching.Add(-1)
	}
}
