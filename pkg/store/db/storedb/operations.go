package storedb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/store/db"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"

	"github.com/cockroachdb/pebble"
)

func (d *DB) Get(ctx context.Context, user, collection, id string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	key, err := keys.GenDocKey(user, collection, id)
	if err != nil {
		return nil, err
	}
	client, release, err := d.handle()
	if err != nil {
		return nil, err
	}
	defer release()

	v, closer, err := client.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			logger.Debug("get_key_missing", "key", key)
			return nil, db.ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	defer closer.Close()
	body, _, err := decodeValue(v)
	return body, err
}

func (d *DB) Put(ctx context.Context, user, collection, id string, body []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	key, err := keys.GenDocKey(user, collection, id)
	if err != nil {
		return err
	}
	client, release, err := d.handle()
	if err != nil {
		return err
	}
	defer release()

	if err := client.Set([]byte(key), encodeValue(body, timeutil.Now()), pebble.Sync); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	logger.Debug("save_key_ok", "key", key, "len", len(body))
	return nil
}

func (d *DB) Delete(ctx context.Context, user, collection, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	key, err := keys.GenDocKey(user, collection, id)
	if err != nil {
		return err
	}
	client, release, err := d.handle()
	if err != nil {
		return err
	}
	defer release()

	if err := client.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	logger.Debug("delete_key_ok", "key", key)
	return nil
}

// List returns every document of a user collection in key order.
func (d *DB) List(ctx context.Context, user, collection string) ([]db.Record, error) {
	prefix, err := keys.GenCollectionPrefix(user, collection)
	if err != nil {
		return nil, err
	}
	client, release, err := d.handle()
	if err != nil {
		return nil, err
	}
	defer release()

	iter, err := client.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keys.UpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	out := []db.Record{}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		parts, err := keys.ParseDocKey(string(iter.Key()))
		if err != nil {
			logger.Warn("list_skip_foreign_key", "key", string(iter.Key()), "error", err)
			continue
		}
		body, at, err := decodeValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", iter.Key(), err)
		}
		out = append(out, db.Record{ID: parts.DocID, Body: body, UpdatedAt: at})
	}
	return out, iter.Error()
}

// Entry is a raw key/value pair yielded by Scan.
type Entry struct {
	Key       string
	Body      []byte
	UpdatedAt time.Time
}

// Scan walks every key under prefix and calls fn until it returns false.
func (d *DB) Scan(prefix string, fn func(Entry) bool) error {
	client, release, err := d.handle()
	if err != nil {
		return err
	}
	defer release()

	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = keys.UpperBound(prefix)
	}
	iter, err := client.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		body, at, err := decodeValue(iter.Value())
		if err != nil {
			return fmt.Errorf("%s: %w", iter.Key(), err)
		}
		if !fn(Entry{Key: string(iter.Key()), Body: body, UpdatedAt: at}) {
			break
		}
	}
	return iter.Error()
}

// Metrics exposes pebble's internal counters for the admin stats route.
func (d *DB) Metrics() *pebble.Metrics {
	client, release, err := d.handle()
	if err != nil {
		return nil
	}
	defer release()
	return client.Metrics()
}
