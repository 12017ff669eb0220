package workspace

import (
	"context"
	"sync"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/timeutil"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

type ManagerOptions struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Manager hands out one workspace per user and evicts idle ones.
type Manager struct {
	deps Deps
	opts ManagerOptions

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
	anon       *Workspace

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

func NewManager(deps Deps, opts ManagerOptions) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	m := &Manager{
		deps:       deps,
		opts:       opts,
		workspaces: make(map[string]*Workspace),
		stop:       make(chan struct{}),
	}
	m.anon, _ = Open(context.Background(), "", deps)
	return m
}

// Anonymous returns the shared workspace for requests without a signed-in user.
func (m *Manager) Anonymous() *Workspace { return m.anon }

// Get returns the user's workspace, opening it on first use.
func (m *Manager) Get(ctx context.Context, user string) (*Workspace, error) {
	if user == "" {
		return m.anon, nil
	}
	if w, err := m.lookup(user); w != nil || err != nil {
		return w, err
	}
	// Open lists three collections; do it outside the lock
	w, err := Open(ctx, user, m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		w.Close()
		return nil, ErrClosed
	}
	if cur, ok := m.workspaces[user]; ok {
		m.mu.Unlock()
		w.Close()
		cur.touch()
		return cur, nil
	}
	m.workspaces[user] = w
	m.mu.Unlock()
	return w, nil
}

func (m *Manager) lookup(user string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if w, ok := m.workspaces[user]; ok {
		w.touch()
		return w, nil
	}
	return nil, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Start runs the idle janitor until Close.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.janitor()
	})
}

func (m *Manager) janitor() {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := m.Sweep(timeutil.Now()); n > 0 {
				logger.Info("workspace_sweep", "evicted", n, "open", m.Len())
			}
		case <-m.stop:
			return
		}
	}
}

// Sweep closes workspaces unused for longer than the idle TTL. Workspaces with
// active watchers are kept.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Workspace
	for user, w := range m.workspaces {
		if w.watching.Load() > 0 {
			continue
		}
		if now.Sub(w.idleSince()) > m.opts.IdleTTL {
			idle = append(idle, w)
			delete(m.workspaces, user)
		}
	}
	m.mu.Unlock()
	for _, w := range idle {
		w.Close()
	}
	return len(idle)
}

// Close stops the janitor and every workspace.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
		m.mu.Lock()
		m.closed = true
		all := m.workspaces
		m.workspaces = map[string]*Workspace{}
		m.mu.Unlock()
		for _, w := range all {
			w.Close()
		}
		m.anon.Close()
	})
}
