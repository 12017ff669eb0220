package queue

import (
	"context"
	"encoding/json"
)

type handlerFunc func(ctx context.Context, op *QueueOp) error

func (q *IngestQueue) registerHandlers() map[HandlerID]handlerFunc {
	return map[HandlerID]handlerFunc{
		HandlerDocSet: func(ctx context.Context, op *QueueOp) error {
			return q.opts.Store.Set(ctx, op.User, op.Collection, op.ID, json.RawMessage(op.Payload))
		},
		HandlerDocUpdate: func(ctx context.Context, op *QueueOp) error {
			return q.opts.Store.Update(ctx, op.User, op.Collection, op.ID, json.RawMessage(op.Payload))
		},
		HandlerDocDelete: func(ctx context.Context, op *QueueOp) error {
			return q.opts.Store.Delete(ctx, op.User, op.Collection, op.ID)
		},
	}
}
