package queue

import (
	"encoding/json"
	"fmt"

	"charhub/pkg/events"
	"charhub/pkg/logger"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"
)

const (
	defaultCapacity = 1024
	defaultWorkers  = 4
)

// NewIngestQueue creates a bounded queue. Call Start to run the workers.
func NewIngestQueue(opts Options) *IngestQueue {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Bus == nil {
		opts.Bus = events.Default
	}
	q := &IngestQueue{
		ch:       make(chan *QueueOp, opts.Capacity),
		capacity: opts.Capacity,
		opts:     opts,
	}
	q.handlers = q.registerHandlers()
	if opts.Journal != nil {
		last, err := opts.Journal.LastIndex()
		if err != nil {
			logger.Error("ingest_journal_read_failed", "error", err)
		}
		// new ops continue after the journaled ones
		q.recoverUpTo = last
		q.seq.Store(last)
	}
	return q
}

// TryEnqueue adds op without blocking.
func (q *IngestQueue) TryEnqueue(op QueueOp) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if _, ok := q.handlers[op.Handler]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, op.Handler)
	}

	op.EnqSeq = q.seq.Add(1)
	if op.TS == 0 {
		op.TS = timeutil.Now().UnixNano()
	}
	if j := q.opts.Journal; j != nil {
		b, err := json.Marshal(op)
		if err == nil {
			err = j.Append(op.EnqSeq, b)
		}
		if err != nil {
			return fmt.Errorf("journal op: %w", err)
		}
	}
	q.pending.Add(1)
	select {
	case q.ch <- &op:
		q.enqueued.Add(1)
		return nil
	default:
		q.pending.Add(-1)
		q.dropped.Add(1)
		q.forget(op.EnqSeq)
		return ErrQueueFull
	}
}

// Submit enqueues op and never reports back. A rejected op becomes a
// permission_error event for its user.
func (q *IngestQueue) Submit(op QueueOp) {
	if err := q.TryEnqueue(op); err != nil {
		logger.Warn("queue_submit_rejected", "handler", op.Handler, "user", op.User, "id", op.ID, "error", err)
		q.publishFailure(&op, err)
	}
}

// Set queues a whole-document write.
func (q *IngestQueue) Set(user, collection, id string, v any) {
	q.submitWithPayload(HandlerDocSet, user, collection, id, v)
}

// Update queues a top-level merge into an existing document.
func (q *IngestQueue) Update(user, collection, id string, patch any) {
	q.submitWithPayload(HandlerDocUpdate, user, collection, id, patch)
}

// Delete queues a document delete.
func (q *IngestQueue) Delete(user, collection, id string) {
	q.Submit(QueueOp{Handler: HandlerDocDelete, User: user, Collection: collection, ID: id})
}

func (q *IngestQueue) submitWithPayload(h HandlerID, user, collection, id string, v any) {
	op := QueueOp{Handler: h, User: user, Collection: collection, ID: id}
	b, err := json.Marshal(v)
	if err != nil {
		q.publishFailure(&op, fmt.Errorf("encode payload: %w", err))
		return
	}
	op.Payload = b
	q.Submit(op)
}

func (q *IngestQueue) publishFailure(op *QueueOp, cause error) {
	q.failed.Add(1)
	var data any
	if len(op.Payload) > 0 {
		var m map[string]any
		if json.Unmarshal(op.Payload, &m) == nil {
			data = m
		}
	}
	pe := events.NewPermissionError(events.RequestContext{
		Auth:                &events.Auth{UID: op.User},
		Method:              methodFor(op.Handler),
		Path:                keys.DocPath(op.User, op.Collection, op.ID),
		RequestResourceData: data,
	}, cause)
	q.opts.Bus.PublishPermissionError(op.User, pe)
}

func methodFor(h HandlerID) string {
	switch h {
	case HandlerDocSet:
		return events.MethodWrite
	case HandlerDocUpdate:
		return events.MethodUpdate
	case HandlerDocDelete:
		return events.MethodDelete
	default:
		return events.MethodWrite
	}
}

// Close stops intake, lets the workers drain every pending op and waits for them.
func (q *IngestQueue) Close() {
	q.closed.Store(true)
	q.enqWg.Wait()
	q.closeOnce.Do(func() { close(q.ch) })
	q.workerWg.Wait()
}

// Len is the number of ops accepted but not yet applied.
func (q *IngestQueue) Len() int { return int(q.pending.Load()) }
func (q *IngestQueue) Cap() int { return q.capacity }

func (q *IngestQueue) Stats() Stats {
	return Stats{
		Len:       q.Len(),
		Cap:       q.capacity,
		Enqueued:  q.enqueued.Load(),
		Recovered: q.recovered.Load(),
		Applied:   q.applied.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}
