// Package mongostore adapts the official MongoDB driver to store.Client.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/suteetoe/taskapp/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Server error codes translated into store sentinels.
const (
	codeNamespaceExists       = 48
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// Client wraps a connected *mongo.Client.
type Client struct {
	client *mongo.Client
}

// New returns a store.Client backed by client.
func New(client *mongo.Client) *Client {
	return &Client{client: client}
}

// Database returns a handle to the named database. MongoDB creates databases
// lazily, so this never fails.
func (c *Client) Database(name string) store.Database {
	return &Database{db: c.client.Database(name)}
}

// ListDatabaseNames lists every database on the cluster.
func (c *Client) ListDatabaseNames(ctx context.Context) ([]string, error) {
	names, err := c.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("error listing databases: %w", err)
	}
	return names, nil
}

// Database wraps a *mongo.Database.
type Database struct {
	db *mongo.Database
}

func (d *Database) Name() string {
	return d.db.Name()
}

func (d *Database) Collection(name string) store.Collection {
	return &Collection{coll: d.db.Collection(name)}
}

func (d *Database) CreateCollection(ctx context.Context, name string) error {
	if err := d.db.CreateCollection(ctx, name); err != nil {
		return translate(err)
	}
	return nil
}

func (d *Database) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("error listing collections of %s: %w", d.db.Name(), err)
	}
	return names, nil
}

func (d *Database) DropCollection(ctx context.Context, name string) error {
	return d.db.Collection(name).Drop(ctx)
}

func (d *Database) Drop(ctx context.Context) error {
	return d.db.Drop(ctx)
}

// Collection wraps a *mongo.Collection.
type Collection struct {
	coll *mongo.Collection
}

func (c *Collection) Name() string {
	return c.coll.Name()
}

func (c *Collection) DatabaseName() string {
	return c.coll.Database().Name()
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, translate(err)
	}
	return res.InsertedID, nil
}

func (c *Collection) InsertMany(ctx context.Context, docs []any) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	res, err := c.coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, translate(err)
	}
	return int64(len(res.InsertedIDs)), nil
}

func (c *Collection) UpsertManyByID(ctx context.Context, docs []bson.M) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	operations := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		id, ok := doc["_id"]
		if !ok {
			return 0, fmt.Errorf("document without _id cannot be upserted into %s", c.coll.Name())
		}
		operations = append(operations, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: id}}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	res, err := c.coll.BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("error executing bulk upsert on collection %s: %w", c.coll.Name(), translate(err))
	}
	return res.UpsertedCount + res.MatchedCount, nil
}

func (c *Collection) FindOne(ctx context.Context, filter bson.M, result any) error {
	if err := c.coll.FindOne(ctx, nonNil(filter)).Decode(result); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Collection) Find(ctx context.Context, filter bson.M, results any) error {
	cursor, err := c.coll.Find(ctx, nonNil(filter))
	if err != nil {
		return fmt.Errorf("error querying collection %s: %w", c.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, results); err != nil {
		return fmt.Errorf("error decoding documents: %w", err)
	}
	return nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	return c.coll.CountDocuments(ctx, nonNil(filter))
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update bson.M) (store.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, nonNil(filter), update)
	if err != nil {
		return store.UpdateResult{}, translate(err)
	}
	return store.UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (store.UpdateResult, error) {
	res, err := c.coll.UpdateMany(ctx, nonNil(filter), update)
	if err != nil {
		return store.UpdateResult{}, translate(err)
	}
	return store.UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, nonNil(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, nonNil(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *Collection) ListIndexNames(ctx context.Context) ([]string, error) {
	cursor, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes for collection %s: %w", c.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var indexDoc bson.M
		if err := cursor.Decode(&indexDoc); err != nil {
			continue
		}
		if name, ok := indexDoc["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, cursor.Err()
}

func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) (string, error) {
	keys := bson.D{}
	for _, key := range spec.Keys {
		order := key.Order
		if order == 0 {
			order = 1
		}
		keys = append(keys, bson.E{Key: key.Field, Value: order})
	}

	indexOpts := options.Index().SetName(spec.Name)
	if spec.Unique {
		indexOpts.SetUnique(true)
	}

	name, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: indexOpts})
	if err != nil {
		return "", translate(err)
	}
	return name, nil
}

// translate maps driver errors onto store sentinels, keeping the original in
// the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", store.ErrDuplicateKey, err)
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		switch {
		case serverErr.HasErrorCode(codeIndexOptionsConflict), serverErr.HasErrorCode(codeIndexKeySpecsConflict):
			return fmt.Errorf("%w: %w", store.ErrIndexConflict, err)
		case serverErr.HasErrorCode(codeNamespaceExists):
			return fmt.Errorf("%w: %w", store.ErrCollectionExists, err)
		}
	}
	return err
}

func nonNil(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
