// Package events is the process-wide channel for permission errors and user notifications.
package events

import (
	"sync"
	"sync/atomic"

	"charhub/pkg/logger"
	"charhub/pkg/timeutil"
)

const (
	defaultRecent = 256
	defaultBuffer = 64
)

// Default is the process-wide bus.
var Default = NewBus(defaultRecent)

// Bus fans events out to subscribers. Publish never blocks; a full subscriber drops the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	seq    atomic.Uint64
	drops  atomic.Uint64
	counts sync.Map // Kind -> *atomic.Uint64

	ringMu sync.Mutex
	ring   []Event
	next   int
	filled bool
}

type Subscription struct {
	C    <-chan Event
	ch   chan Event
	user string
	bus  *Bus
	once sync.Once
}

func NewBus(recent int) *Bus {
	if recent <= 0 {
		recent = defaultRecent
	}
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		ring: make([]Event, recent),
	}
}

// Publish stamps ev and dispatches it. The returned event carries the assigned sequence number.
func (b *Bus) Publish(ev Event) Event {
	ev.Seq = b.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = timeutil.Now()
	}
	b.count(ev.Kind)
	b.remember(ev)

	b.mu.RLock()
	for s := range b.subs {
		if s.user != "" && s.user != ev.User {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.drops.Add(1)
		}
	}
	b.mu.RUnlock()
	return ev
}

// PublishPermissionError publishes one permission_error event for user.
func (b *Bus) PublishPermissionError(user string, pe *PermissionError) Event {
	logger.Warn("permission_error", "user", user, "method", pe.Context.Method, "path", pe.Context.Path, "cause", pe.Cause)
	return b.Publish(Event{Kind: KindPermissionError, User: user, PermissionError: pe})
}

// Notify publishes a notification for user.
func (b *Bus) Notify(user string, n Notification) Event {
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	return b.Publish(Event{Kind: KindNotification, User: user, Notification: &n})
}

// Subscribe registers a subscriber for all events. buffer <= 0 uses a default.
func (b *Bus) Subscribe(buffer int) *Subscription {
	return b.SubscribeUser("", buffer)
}

// SubscribeUser registers a subscriber that only sees events for user.
func (b *Bus) SubscribeUser(user string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, user: user, bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Recent returns up to n of the latest events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	size := b.next
	if b.filled {
		size = len(b.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	start := b.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(b.ring)) % len(b.ring)
		out = append(out, b.ring[idx])
	}
	return out
}

type Stats struct {
	Published   uint64            `json:"published"`
	Dropped     uint64            `json:"dropped"`
	Subscribers int               `json:"subscribers"`
	ByKind      map[string]uint64 `json:"byKind"`
}

func (b *Bus) Stats() Stats {
	st := Stats{
		Published: b.seq.Load(),
		Dropped:   b.drops.Load(),
		ByKind:    map[string]uint64{},
	}
	b.mu.RLock()
	st.Subscribers = len(b.subs)
	b.mu.RUnlock()
	b.counts.Range(func(k, v any) bool {
		st.ByKind[string(k.(Kind))] = v.(*atomic.Uint64).Load()
		return true
	})
	return st
}

// Count returns how many events of kind were published.
func (b *Bus) Count(kind Kind) uint64 {
	if v, ok := b.counts.Load(kind); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

func (b *Bus) count(kind Kind) {
	v, _ := b.counts.LoadOrStore(kind, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

func (b *Bus) remember(ev Event) {
	b.ringMu.Lock()
	b.ring[b.next] = ev
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.filled = true
	}
	b.ringMu.Unlock()
}
