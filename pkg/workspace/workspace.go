// Package workspace owns the live state of one user: characters, personas and
// settings mirrored from the store, plus the operations that mutate them.
//
// Each workspace runs a single owner goroutine. Every state change, whether it
// comes from an operation or from a store snapshot, is applied there through
// Reduce. Writes are optimistic: local state changes first and the document
// write is handed to the ingest queue without waiting for it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"charhub/pkg/events"
	"charhub/pkg/llm"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	"charhub/pkg/photo"
	"charhub/pkg/store"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("workspace closed")
)

// Subscriber streams collection snapshots.
type Subscriber interface {
	Subscribe(ctx context.Context, user, collection string) (*store.Subscription, error)
}

// Writer takes fire-and-forget document writes. Failures surface on the event bus.
type Writer interface {
	Set(user, collection, id string, v any)
	Update(user, collection, id string, patch any)
	Delete(user, collection, id string)
}

// Deps are shared by every workspace of a Manager.
type Deps struct {
	Store     Subscriber
	Writer    Writer
	Generator llm.Generator
	// Bus defaults to events.Default.
	Bus   *events.Bus
	Photo photo.Options
}

// Workspace is the state owner for one user. The anonymous workspace has an empty user.
type Workspace struct {
	user string
	deps Deps

	cmds chan func()
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	subs     []*store.Subscription

	// owned by the run loop
	state    State
	feeds    []feed
	watchers map[*Watcher]struct{}

	watching atomic.Int32
	lastUsed atomic.Int64
}

type feed struct {
	collection string
	c          <-chan store.Snapshot
}

func newWorkspace(user string, deps Deps) *Workspace {
	if deps.Bus == nil {
		deps.Bus = events.Default
	}
	w := &Workspace{
		user:     user,
		deps:     deps,
		cmds:     make(chan func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		watchers: make(map[*Watcher]struct{}),
		state:    State{User: user, Settings: models.DefaultSettings()},
	}
	w.touch()
	return w
}

// Open subscribes to every collection of user, applies the initial snapshots
// and starts the owner goroutine. An empty user opens an anonymous workspace.
func Open(ctx context.Context, user string, deps Deps) (*Workspace, error) {
	w := newWorkspace(user, deps)
	if user != "" {
		if deps.Store == nil {
			return nil, fmt.Errorf("workspace %s: no store", user)
		}
		for _, coll := range keys.Collections() {
			sub, err := deps.Store.Subscribe(ctx, user, coll)
			if err != nil {
				w.closeSubs()
				return nil, fmt.Errorf("subscribe %s: %w", keys.DocPath(user, coll, ""), err)
			}
			w.subs = append(w.subs, sub)
			w.feeds = append(w.feeds, feed{collection: coll, c: sub.C})
			if first, ok := <-sub.C; ok {
				w.applySnapshot(coll, first)
			}
		}
	}
	go w.run()
	logger.Debug("workspace_opened", "user", user)
	return w, nil
}

func (w *Workspace) User() string { return w.user }

func (w *Workspace) Authenticated() bool { return w.user != "" }

func (w *Workspace) run() {
	defer close(w.done)
	var (
		chars, personas, settings <-chan store.Snapshot
	)
	for _, f := range w.feeds {
		switch f.collection {
		case keys.Characters:
			chars = f.c
		case keys.Personas:
			personas = f.c
		case keys.Settings:
			settings = f.c
		}
	}
	for {
		select {
		case fn := <-w.cmds:
			// snapshots already delivered are applied before the command sees state
			w.drainSnapshots()
			fn()
		case snap, ok := <-chars:
			chars = w.receive(keys.Characters, snap, ok, chars)
		case snap, ok := <-personas:
			personas = w.receive(keys.Personas, snap, ok, personas)
		case snap, ok := <-settings:
			settings = w.receive(keys.Settings, snap, ok, settings)
		case <-w.stop:
			for wt := range w.watchers {
				wt.shut()
			}
			w.watchers = nil
			return
		}
	}
}

func (w *Workspace) receive(coll string, snap store.Snapshot, ok bool, c <-chan store.Snapshot) <-chan store.Snapshot {
	if !ok {
		return nil
	}
	w.applySnapshot(coll, snap)
	return c
}

func (w *Workspace) drainSnapshots() {
	for i, f := range w.feeds {
		if f.c == nil {
			continue
		}
		select {
		case snap, ok := <-f.c:
			if !ok {
				w.feeds[i].c = nil
				continue
			}
			w.applySnapshot(f.collection, snap)
		default:
		}
	}
}

func (w *Workspace) applySnapshot(coll string, snap store.Snapshot) {
	a, err := snapshotAction(coll, snap)
	if err != nil {
		logger.Warn("workspace_snapshot_decode_failed", "user", w.user, "collection", coll, "error", err)
		return
	}
	w.dispatch(a)
}

// do runs fn on the owner goroutine and waits for it.
func (w *Workspace) do(ctx context.Context, fn func() error) error {
	w.touch()
	res := make(chan error, 1)
	cmd := func() { res <- fn() }
	select {
	case w.cmds <- cmd:
	case <-w.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-res
}

// dispatch applies a on the owner goroutine. Only call it from there.
func (w *Workspace) dispatch(a Action) {
	w.state = Reduce(w.state, a)
	for wt := range w.watchers {
		wt.offer(w.state.Clone())
	}
}

func snapshotAction(coll string, snap store.Snapshot) (Action, error) {
	switch coll {
	case keys.Characters:
		cs, err := store.Decode[models.Character](snap)
		if err != nil {
			return nil, err
		}
		return CharactersSnapshot{Characters: cs}, nil
	case keys.Personas:
		ps, err := store.Decode[models.UserPersona](snap)
		if err != nil {
			return nil, err
		}
		return PersonasSnapshot{Personas: ps}, nil
	case keys.Settings:
		for _, d := range snap.Docs {
			if d.ID != models.SettingsDocID {
				continue
			}
			one := store.Snapshot{Collection: coll, Docs: []store.Document{d}}
			ss, err := store.Decode[models.Settings](one)
			if err != nil {
				return nil, err
			}
			return SettingsSnapshot{Settings: ss[0], Present: true}, nil
		}
		return SettingsSnapshot{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", keys.ErrUnknownCollection, coll)
	}
}

// Snapshot returns a copy of the current state.
func (w *Workspace) Snapshot(ctx context.Context) (State, error) {
	var out State
	err := w.do(ctx, func() error {
		out = w.state.Clone()
		return nil
	})
	return out, err
}

// Close stops the owner and every subscription. It is safe to call twice.
func (w *Workspace) Close() {
	w.stopOnce.Do(func() {
		w.closeSubs()
		close(w.stop)
		<-w.done
		logger.Debug("workspace_closed", "user", w.user)
	})
}

func (w *Workspace) closeSubs() {
	for _, s := range w.subs {
		s.Close()
	}
}

func (w *Workspace) touch() { w.lastUsed.Store(timeutil.Now().UnixNano()) }

func (w *Workspace) idleSince() time.Time { return time.Unix(0, w.lastUsed.Load()) }

func (w *Workspace) requireUser() error {
	if w.user == "" {
		return ErrNotLoggedIn
	}
	return nil
}

func (w *Workspace) notify(n events.Notification) {
	w.deps.Bus.Notify(w.user, n)
}

func (w *Workspace) failGeneration(err error) {
	w.notify(events.Notification{
		Title:       events.TitleGenerationFailed,
		Description: err.Error(),
		Variant:     events.VariantDestructive,
	})
}
