package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"charhub/pkg/events"
)

// HandlerID specifies the operation to perform for a queue Op.
type HandlerID string

const (
	HandlerDocSet    HandlerID = "doc.set"
	HandlerDocUpdate HandlerID = "doc.update"
	HandlerDocDelete HandlerID = "doc.delete"
)

// Queue errors
var (
	ErrQueueFull      = errors.New("ingest queue full")
	ErrQueueClosed    = errors.New("ingest queue closed")
	ErrUnknownHandler = errors.New("unknown queue handler")
)

// QueueOp is one document write.
type QueueOp struct {
	Handler    HandlerID       `json:"handler"`
	User       string          `json:"user"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	TS         int64           `json:"ts"`
	EnqSeq     uint64          `json:"seq"`
}

// Store is the write side the workers apply ops to.
type Store interface {
	Set(ctx context.Context, user, collection, id string, v any) error
	Update(ctx context.Context, user, collection, id string, patch any) error
	Delete(ctx context.Context, user, collection, id string) error
}

type Options struct {
	Capacity     int
	Workers      int
	WriteTimeout time.Duration
	Store        Store
	// Bus receives one permission_error per failed op. Defaults to events.Default.
	Bus *events.Bus
	// Journal, when set, records ops from acceptance until they are applied.
	Journal Journal
}

// Journal is a durable record of accepted ops keyed by EnqSeq.
type Journal interface {
	Append(seq uint64, data []byte) error
	Remove(seq uint64) error
	LastIndex() (uint64, error)
	Replay(upTo uint64, fn func(seq uint64, data []byte) error) error
}

// IngestQueue is a bounded channel of writes drained by a worker pool.
// Pending counts ops from enqueue until a worker finishes them.
type IngestQueue struct {
	ch       chan *QueueOp
	shards   []chan *QueueOp
	capacity int
	opts     Options
	handlers map[HandlerID]handlerFunc

	seq       atomic.Uint64
	closed    atomic.Bool
	enqWg     sync.WaitGroup
	workerWg  sync.WaitGroup
	closeOnce sync.Once
	startOnce sync.Once

	// ops journaled before this process started; replayed by Start
	recoverUpTo uint64

	enqueued  atomic.Uint64
	recovered atomic.Uint64
	applied   atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	pending   atomic.Int64
}

type Stats struct {
	Len       int    `json:"len"`
	Cap       int    `json:"cap"`
	Enqueued  uint64 `json:"enqueued"`
	Recovered uint64 `json:"recovered"`
	Applied   uint64 `json:"applied"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}
