package store

import (
	"context"
	"sync"
	"sync/atomic"

	"charhub/pkg/logger"
)

type topicKey struct {
	user, collection string
}

// topics live for the process lifetime; there are at most three per user.
type topic struct {
	// serializes list+offer so the last delivered snapshot follows the last change
	mu      sync.Mutex
	version uint64
	subs    map[*Subscription]struct{}
}

type hub struct {
	mu        sync.Mutex
	topics    map[topicKey]*topic
	list      func(ctx context.Context, user, collection string) (Snapshot, error)
	delivered atomic.Uint64
}

// Subscription holds at most one pending snapshot; a newer one replaces it.
type Subscription struct {
	C <-chan Snapshot

	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
	hub    *hub
	key    topicKey
}

func newHub(list func(ctx context.Context, user, collection string) (Snapshot, error)) *hub {
	return &hub{topics: make(map[topicKey]*topic), list: list}
}

func (h *hub) topicFor(k topicKey, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[k]
	if t == nil && create {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[k] = t
	}
	return t
}

func (h *hub) subscribe(ctx context.Context, user, collection string) (*Subscription, error) {
	k := topicKey{user, collection}
	ch := make(chan Snapshot, 1)
	sub := &Subscription{C: ch, ch: ch, hub: h, key: k}

	t := h.topicFor(k, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, err := h.list(ctx, user, collection)
	if err != nil {
		return nil, err
	}
	snap.Version = t.version
	t.subs[sub] = struct{}{}
	sub.offer(snap)
	h.delivered.Add(1)
	return sub, nil
}

func (h *hub) changed(ctx context.Context, user, collection string) {
	t := h.topicFor(topicKey{user, collection}, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		return
	}
	// writers may have a short-lived ctx; the snapshot read should not inherit its cancellation
	snap, err := h.list(context.WithoutCancel(ctx), user, collection)
	if err != nil {
		logger.Error("snapshot_list_failed", "user", user, "collection", collection, "error", err)
		return
	}
	t.version++
	snap.Version = t.version
	for sub := range t.subs {
		sub.offer(snap)
		h.delivered.Add(1)
	}
}

func (h *hub) remove(sub *Subscription) {
	t := h.topicFor(sub.key, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	ts := make([]*topic, 0, len(h.topics))
	for _, t := range h.topics {
		ts = append(ts, t)
	}
	h.mu.Unlock()
	n := 0
	for _, t := range ts {
		t.mu.Lock()
		n += len(t.subs)
		t.mu.Unlock()
	}
	return n
}

func (h *hub) closeAll() {
	h.mu.Lock()
	ts := h.topics
	h.topics = make(map[topicKey]*topic)
	h.mu.Unlock()
	for _, t := range ts {
		t.mu.Lock()
		for sub := range t.subs {
			sub.shut()
		}
		t.subs = map[*Subscription]struct{}{}
		t.mu.Unlock()
	}
}

func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.shut()
}
