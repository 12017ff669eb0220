package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"charhub/pkg/logger"
	"charhub/pkg/telemetry"
)

// Start launches the router and the worker pool once. Ops of one user always
// land on the same worker so they apply in submit order. Workers exit after
// Close drains the queue.
func (q *IngestQueue) Start() {
	q.startOnce.Do(func() {
		q.recover()
		per := q.capacity / q.opts.Workers
		if per < 1 {
			per = 1
		}
		q.shards = make([]chan *QueueOp, q.opts.Workers)
		for i := range q.shards {
			q.shards[i] = make(chan *QueueOp, per)
			q.workerWg.Add(1)
			go q.runWorker(i, q.shards[i])
		}
		q.workerWg.Add(1)
		go q.route()
		logger.Info("ingest_workers_started", "workers", q.opts.Workers, "capacity", q.capacity)
	})
}

func (q *IngestQueue) route() {
	defer q.workerWg.Done()
	for op := range q.ch {
		q.shards[shardFor(op.User, len(q.shards))] <- op
	}
	for _, sh := range q.shards {
		close(sh)
	}
}

func shardFor(user string, n int) int {
	return int(xxhash.Sum64String(user) % uint64(n))
}

func (q *IngestQueue) runWorker(n int, ops <-chan *QueueOp) {
	defer q.workerWg.Done()
	for op := range ops {
		q.apply(op)
		q.forget(op.EnqSeq)
		q.pending.Add(-1)
	}
	logger.Debug("ingest_worker_stopped", "worker", n)
}

func (q *IngestQueue) apply(op *QueueOp) {
	tr := telemetry.Track("ingest.apply")
	defer tr.Finish()

	ctx := context.Background()
	if q.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.WriteTimeout)
		defer cancel()
	}

	err := q.safeHandle(ctx, op)
	tr.Mark(string(op.Handler))
	if err != nil {
		logger.Error("ingest_apply_failed", "handler", op.Handler, "user", op.User, "collection", op.Collection, "id", op.ID, "seq", op.EnqSeq, "error", err)
		q.publishFailure(op, err)
		return
	}
	q.applied.Add(1)
}

// forget drops a finished op from the journal. Failed ops are forgotten too;
// their failure was already published.
func (q *IngestQueue) forget(seq uint64) {
	if q.opts.Journal == nil {
		return
	}
	if err := q.opts.Journal.Remove(seq); err != nil {
		logger.Warn("ingest_journal_remove_failed", "seq", seq, "error", err)
	}
}

// recover applies ops journaled by an earlier process, in order, before the
// workers take new ones.
func (q *IngestQueue) recover() {
	if q.opts.Journal == nil || q.recoverUpTo == 0 {
		return
	}
	var ops []*QueueOp
	err := q.opts.Journal.Replay(q.recoverUpTo, func(seq uint64, data []byte) error {
		op := &QueueOp{}
		if err := json.Unmarshal(data, op); err != nil {
			logger.Error("ingest_journal_corrupt_entry", "seq", seq, "error", err)
			ops = append(ops, &QueueOp{EnqSeq: seq})
			return nil
		}
		op.EnqSeq = seq
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		logger.Error("ingest_journal_replay_failed", "error", err)
	}
	for _, op := range ops {
		if _, ok := q.handlers[op.Handler]; ok {
			q.apply(op)
			q.recovered.Add(1)
		} else if op.Handler != "" {
			logger.Error("ingest_journal_unknown_handler", "seq", op.EnqSeq, "handler", op.Handler)
		}
		q.forget(op.EnqSeq)
	}
	if n := q.recovered.Load(); n > 0 {
		logger.Info("ingest_journal_recovered", "ops", n)
	}
}

// safeHandle turns a handler panic into an error so one bad op cannot kill a worker.
func (q *IngestQueue) safeHandle(ctx context.Context, op *QueueOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	h := q.handlers[op.Handler]
	return h(ctx, op)
}
