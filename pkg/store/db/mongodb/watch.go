package mongodb

import (
	"context"
	"errors"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/store/db"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

const watchRetryDelay = 2 * time.Second

// Watch follows the collection's change stream and calls fn for every
// insert, replace, update or delete until ctx is done. Change streams need a
// replica set; on a standalone server Watch returns the open error.
func (d *DB) Watch(ctx context.Context, fn func(db.Change)) error {
	coll, release, err := d.handle()
	if err != nil {
		return err
	}
	release()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: bson.D{
			{Key: "$in", Value: bson.A{"insert", "replace", "update", "delete"}},
		}}}}},
	}

	var resume bson.Raw
	first := true
	for {
		opts := changeStreamOptions(resume)
		cs, err := coll.Watch(ctx, pipeline, opts)
		if err != nil {
			if first {
				return err
			}
			logger.Warn("mongo_watch_reopen_failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(watchRetryDelay):
				continue
			}
		}
		first = false
		logger.Info("mongo_watch_started")

		for cs.Next(ctx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				logger.Warn("mongo_watch_decode_failed", "error", err)
				continue
			}
			ch, err := ParseDocumentID(ev.DocumentKey.ID)
			if err != nil {
				continue
			}
			ch.Deleted = ev.OperationType == "delete"
			fn(ch)
			resume = cs.ResumeToken()
		}
		err = cs.Err()
		_ = cs.Close(context.Background())
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Warn("mongo_watch_interrupted", "error", err)
	}
}
