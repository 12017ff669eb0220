// Package mongodb stores user documents in a single MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"charhub/pkg/logger"
	"charhub/pkg/store/db"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Options struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// document is the stored shape. _id is <user>/<collection>/<doc_id>.
type document struct {
	ID         string    `bson:"_id"`
	User       string    `bson:"user"`
	Collection string    `bson:"collection"`
	DocID      string    `bson:"doc_id"`
	Body       bson.D    `bson:"body"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type DB struct {
	mu      sync.RWMutex
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// Open connects, pings the primary and ensures the lookup index exists.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	_, err = coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "collection", Value: 1}, {Key: "doc_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo create index: %w", err)
	}
	logger.Info("mongo_connected", "database", opts.Database, "collection", opts.Collection)
	return &DB{client: client, coll: coll, timeout: opts.Timeout}, nil
}

func (d *DB) handle() (*mongo.Collection, func(), error) {
	d.mu.RLock()
	if d.client == nil {
		d.mu.RUnlock()
		return nil, nil, db.ErrClosed
	}
	return d.coll, d.mu.RUnlock, nil
}

func (d *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *DB) Get(ctx context.Context, user, collection, id string) ([]byte, error) {
	if _, err := keys.GenDocKey(user, collection, id); err != nil {
		return nil, err
	}
	coll, release, err := d.handle()
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var doc document
	err = coll.FindOne(ctx, bson.M{"_id": DocumentID(user, collection, id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return FromBody(doc.Body)
}

func (d *DB) Put(ctx context.Context, user, collection, id string, body []byte) error {
	if _, err := keys.GenDocKey(user, collection, id); err != nil {
		return err
	}
	b, err := ToBody(body)
	if err != nil {
		return err
	}
	coll, release, err := d.handle()
	if err != nil {
		return err
	}
	defer release()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	doc := document{
		ID:         DocumentID(user, collection, id),
		User:       user,
		Collection: collection,
		DocID:      id,
		Body:       b,
		UpdatedAt:  timeutil.Now().UTC(),
	}
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		logger.Error("mongo_put_failed", "id", doc.ID, "error", err)
	}
	return err
}

func (d *DB) Delete(ctx context.Context, user, collection, id string) error {
	if _, err := keys.GenDocKey(user, collection, id); err != nil {
		return err
	}
	coll, release, err := d.handle()
	if err != nil {
		return err
	}
	defer release()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err = coll.DeleteOne(ctx, bson.M{"_id": DocumentID(user, collection, id)})
	if err != nil {
		logger.Error("mongo_delete_failed", "user", user, "collection", collection, "id", id, "error", err)
	}
	return err
}

func (d *DB) List(ctx context.Context, user, collection string) ([]db.Record, error) {
	if _, err := keys.GenCollectionPrefix(user, collection); err != nil {
		return nil, err
	}
	coll, release, err := d.handle()
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	findOptions := options.Find().SetSort(bson.D{{Key: "doc_id", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"user": user, "collection": collection}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]db.Record, 0, len(docs))
	for _, doc := range docs {
		body, err := FromBody(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", doc.ID, err)
		}
		out = append(out, db.Record{ID: doc.DocID, Body: body, UpdatedAt: doc.UpdatedAt})
	}
	return out, nil
}

func (d *DB) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client != nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.client.Disconnect(ctx)
	d.client = nil
	return err
}

// DocumentID is the _id of a stored document.
func DocumentID(user, collection, id string) string {
	return user + "/" + collection + "/" + id
}

// ParseDocumentID reverses DocumentID.
func ParseDocumentID(s string) (db.Change, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return db.Change{}, fmt.Errorf("invalid document id %q", s)
	}
	if _, err := keys.GenDocKey(parts[0], parts[1], parts[2]); err != nil {
		return db.Change{}, err
	}
	return db.Change{User: parts[0], Collection: parts[1], ID: parts[2]}, nil
}

// ToBody converts a JSON object into an ordered BSON document so fields stay queryable.
func ToBody(body []byte) (bson.D, error) {
	var out bson.D
	if err := bson.UnmarshalExtJSON(body, false, &out); err != nil {
		return nil, fmt.Errorf("document body must be a JSON object: %w", err)
	}
	return out, nil
}

// FromBody renders a stored body back to relaxed JSON.
func FromBody(b bson.D) ([]byte, error) {
	if b == nil {
		b = bson.D{}
	}
	return bson.MarshalExtJSON(b, false, false)
}
