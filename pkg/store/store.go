// Package store persists per-user document collections and streams live
// collection snapshots to subscribers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"charhub/pkg/logger"
	"charhub/pkg/store/db"
	"charhub/pkg/store/keys"
)

var (
	ErrNotFound          = db.ErrNotFound
	ErrClosed            = db.ErrClosed
	ErrUnknownCollection = keys.ErrUnknownCollection
	ErrInvalidID         = keys.ErrInvalidID
	ErrNotObject         = errors.New("document must be a JSON object")
)

// Backend is a raw document engine.
type Backend interface {
	Get(ctx context.Context, user, collection, id string) ([]byte, error)
	Put(ctx context.Context, user, collection, id string, body []byte) error
	Delete(ctx context.Context, user, collection, id string) error
	List(ctx context.Context, user, collection string) ([]db.Record, error)
	Ready() bool
	Close() error
}

// Watcher is implemented by backends that can report writes made by other processes.
type Watcher interface {
	Watch(ctx context.Context, fn func(db.Change)) error
}

type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type Snapshot struct {
	User       string     `json:"user"`
	Collection string     `json:"collection"`
	Version    uint64     `json:"version"`
	Docs       []Document `json:"docs"`
}

type Stats struct {
	Sets          uint64 `json:"sets"`
	Updates       uint64 `json:"updates"`
	Deletes       uint64 `json:"deletes"`
	Failures      uint64 `json:"failures"`
	Snapshots     uint64 `json:"snapshots"`
	Subscriptions int    `json:"subscriptions"`
}

type Store struct {
	backend Backend
	hub     *hub

	sets, updates, deletes, failures atomic.Uint64
}

func New(backend Backend) *Store {
	s := &Store{backend: backend}
	s.hub = newHub(s.list)
	return s
}

func (s *Store) Backend() Backend { return s.backend }

func (s *Store) Ready() bool { return s.backend != nil && s.backend.Ready() }

// Close ends every subscription and closes the backend.
func (s *Store) Close() error {
	s.hub.closeAll()
	return s.backend.Close()
}

// Set writes the whole document, creating it when missing.
func (s *Store) Set(ctx context.Context, user, collection, id string, v any) error {
	body, err := encodeObject(v)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, user, collection, id, body); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("set %s: %w", keys.DocPath(user, collection, id), err)
	}
	s.sets.Add(1)
	s.hub.changed(ctx, user, collection)
	return nil
}

// Update merges the top-level fields of patch into an existing document.
func (s *Store) Update(ctx context.Context, user, collection, id string, patch any) error {
	current, err := s.backend.Get(ctx, user, collection, id)
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("update %s: %w", keys.DocPath(user, collection, id), err)
	}
	merged, err := mergeTopLevel(current, patch)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, user, collection, id, merged); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("update %s: %w", keys.DocPath(user, collection, id), err)
	}
	s.updates.Add(1)
	s.hub.changed(ctx, user, collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, user, collection, id string) error {
	if err := s.backend.Delete(ctx, user, collection, id); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("delete %s: %w", keys.DocPath(user, collection, id), err)
	}
	s.deletes.Add(1)
	s.hub.changed(ctx, user, collection)
	return nil
}

// Get decodes one document into out.
func (s *Store) Get(ctx context.Context, user, collection, id string, out any) error {
	body, err := s.backend.Get(ctx, user, collection, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// List returns the current contents of a collection.
func (s *Store) List(ctx context.Context, user, collection string) (Snapshot, error) {
	return s.list(ctx, user, collection)
}

func (s *Store) list(ctx context.Context, user, collection string) (Snapshot, error) {
	recs, err := s.backend.List(ctx, user, collection)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{User: user, Collection: collection, Docs: make([]Document, 0, len(recs))}
	for _, r := range recs {
		snap.Docs = append(snap.Docs, Document{ID: r.ID, Data: json.RawMessage(r.Body)})
	}
	return snap, nil
}

// Subscribe delivers an initial snapshot of the collection and a fresh one
// after every change. Slow readers only ever see the newest snapshot.
func (s *Store) Subscribe(ctx context.Context, user, collection string) (*Subscription, error) {
	if _, err := keys.GenCollectionPrefix(user, collection); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, user, collection)
}

// Follow feeds changes from a watching backend into subscriptions until ctx is done.
func (s *Store) Follow(ctx context.Context) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return fmt.Errorf("backend %T cannot watch", s.backend)
	}
	return w.Watch(ctx, func(c db.Change) {
		logger.Debug("store_external_change", "user", c.User, "collection", c.Collection, "id", c.ID, "deleted", c.Deleted)
		s.hub.changed(ctx, c.User, c.Collection)
	})
}

func (s *Store) Stats() Stats {
	return Stats{
		Sets:          s.sets.Load(),
		Updates:       s.updates.Load(),
		Deletes:       s.deletes.Load(),
		Failures:      s.failures.Load(),
		Snapshots:     s.hub.delivered.Load(),
		Subscriptions: s.hub.count(),
	}
}

// Decode unmarshals every document of snap into T, in snapshot order.
func Decode[T any](snap Snapshot) ([]T, error) {
	out := make([]T, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		var v T
		if err := json.Unmarshal(d.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", snap.Collection, d.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeObject(v any) ([]byte, error) {
	var body []byte
	switch t := v.(type) {
	case json.RawMessage:
		body = t
	case []byte:
		body = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		body = b
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil || probe == nil {
		return nil, ErrNotObject
	}
	return body, nil
}

func mergeTopLevel(current []byte, patch any) ([]byte, error) {
	patchBody, err := encodeObject(patch)
	if err != nil {
		return nil, err
	}
	var base, delta map[string]json.RawMessage
	if err := json.Unmarshal(current, &base); err != nil {
		return nil, fmt.Errorf("stored document is not an object: %w", err)
	}
	if base == nil {
		base = map[string]json.RawMessage{}
	}
	if err := json.Unmarshal(patchBody, &delta); err != nil {
		return nil, err
	}
	for k, v := range delta {
		base[k] = v
	}
	return json.Marshal(base)
}
