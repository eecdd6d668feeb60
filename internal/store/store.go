// Package store defines the narrow document-store surface the tenancy layer
// needs. The production implementation lives in mongostore; memstore keeps
// everything in process for tests and local development.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned by FindOne when no document matches.
	ErrNotFound = errors.New("store: document not found")

	// ErrDuplicateKey is returned when an insert collides with an existing _id.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrIndexConflict is returned when an index with the same name but a
	// different key or option set already exists.
	ErrIndexConflict = errors.New("store: index conflict")

	// ErrCollectionExists is returned by CreateCollection for an existing collection.
	ErrCollectionExists = errors.New("store: collection already exists")
)

// IndexKey is one field of an index, Order is 1 or -1.
type IndexKey struct {
	Field string
	Order int
}

// IndexSpec describes a named index.
type IndexSpec struct {
	Name   string
	Keys   []IndexKey
	Unique bool
}

// UpdateResult reports how many documents an update touched.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// Client gives access to every database in one cluster.
type Client interface {
	Database(name string) Database
	ListDatabaseNames(ctx context.Context) ([]string, error)
}

// Database is a single physical database.
type Database interface {
	Name() string
	Collection(name string) Collection
	CreateCollection(ctx context.Context, name string) error
	ListCollectionNames(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, name string) error
	Drop(ctx context.Context) error
}

// Collection is a single physical collection. Filters and updates use the
// MongoDB query language.
type Collection interface {
	Name() string
	DatabaseName() string

	InsertOne(ctx context.Context, doc any) (any, error)
	InsertMany(ctx context.Context, docs []any) (int64, error)
	// UpsertManyByID replaces every document by its _id, inserting the ones
	// that do not exist yet.
	UpsertManyByID(ctx context.Context, docs []bson.M) (int64, error)

	FindOne(ctx context.Context, filter bson.M, result any) error
	// Find decodes every matching document into results, a pointer to a slice.
	Find(ctx context.Context, filter bson.M, results any) error
	CountDocuments(ctx context.Context, filter bson.M) (int64, error)

	UpdateOne(ctx context.Context, filter, update bson.M) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update bson.M) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)

	ListIndexNames(ctx context.Context) ([]string, error)
	CreateIndex(ctx context.Context, spec IndexSpec) (string, error)
}
