// Package memstore is an in-process store.Client. It understands the subset
// of the MongoDB query language the service issues: equality, $exists, $ne,
// $eq, $in, $nin, $or, $and in filters and $set, $unset, $push, $pull in
// updates. Documents are normalized through BSON on the way in and out so
// decoding behaves like the real driver.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/suteetoe/taskapp/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Op names an operation that can be made to fail.
type Op string

const (
	OpInsert           Op = "insert"
	OpUpsert           Op = "upsert"
	OpFind             Op = "find"
	OpCount            Op = "count"
	OpUpdate           Op = "update"
	OpDelete           Op = "delete"
	OpCreateCollection Op = "createCollection"
	OpListIndexes      Op = "listIndexes"
	OpCreateIndex      Op = "createIndex"
)

// Store holds every database in memory. The zero value is not usable; call New.
type Store struct {
	mu        sync.Mutex
	databases map[string]*database
	faults    map[string]error
	discard   map[string]bool
}

type database struct {
	collections map[string]*collection
}

type collection struct {
	docs    []bson.M
	indexes map[string]store.IndexSpec
}

// New returns an empty store.
func New() *Store {
	return &Store{
		databases: make(map[string]*database),
		faults:    make(map[string]error),
		discard:   make(map[string]bool),
	}
}

// Fail makes every subsequent op on dbName.collName return err.
func (s *Store) Fail(op Op, dbName, collName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(op, dbName, collName)] = err
}

// DiscardWrites makes inserts and upserts into dbName.collName report success
// without storing anything.
func (s *Store) DiscardWrites(dbName, collName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discard[dbName+"."+collName] = true
}

// ClearFaults removes every injected failure.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]error)
	s.discard = make(map[string]bool)
}

func faultKey(op Op, dbName, collName string) string {
	return string(op) + "|" + dbName + "|" + collName
}

// fault must be called with s.mu held.
func (s *Store) fault(op Op, dbName, collName string) error {
	return s.faults[faultKey(op, dbName, collName)]
}

func (s *Store) Database(name string) store.Database {
	return &dbHandle{s: s, name: name}
}

func (s *Store) ListDatabaseNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.databases))
	for name, db := range s.databases {
		if len(db.collections) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// lookup returns the collection or nil; create materializes it.
func (s *Store) lookup(dbName, collName string, create bool) *collection {
	db, ok := s.databases[dbName]
	if !ok {
		if !create {
			return nil
		}
		db = &database{collections: make(map[string]*collection)}
		s.databases[dbName] = db
	}
	coll, ok := db.collections[collName]
	if !ok {
		if !create {
			return nil
		}
		coll = &collection{indexes: make(map[string]store.IndexSpec)}
		db.collections[collName] = coll
	}
	return coll
}

type dbHandle struct {
	s    *Store
	name string
}

func (d *dbHandle) Name() string {
	return d.name
}

func (d *dbHandle) Collection(name string) store.Collection {
	return &collHandle{s: d.s, db: d.name, name: name}
}

func (d *dbHandle) CreateCollection(ctx context.Context, name string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	if err := d.s.fault(OpCreateCollection, d.name, name); err != nil {
		return err
	}
	if d.s.lookup(d.name, name, false) != nil {
		return store.ErrCollectionExists
	}
	d.s.lookup(d.name, name, true)
	return nil
}

func (d *dbHandle) ListCollectionNames(ctx context.Context) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	db, ok := d.s.databases[d.name]
	if !ok {
		return []string{}, nil
	}
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *dbHandle) DropCollection(ctx context.Context, name string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	if db, ok := d.s.databases[d.name]; ok {
		delete(db.collections, name)
	}
	return nil
}

func (d *dbHandle) Drop(ctx context.Context) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	delete(d.s.databases, d.name)
	return nil
}

type collHandle struct {
	s    *Store
	db   string
	name string
}

func (c *collHandle) Name() string {
	return c.name
}

func (c *collHandle) DatabaseName() string {
	return c.db
}

func (c *collHandle) discarding() bool {
	return c.s.discard[c.db+"."+c.name]
}

func (c *collHandle) InsertOne(ctx context.Context, doc any) (any, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpInsert, c.db, c.name); err != nil {
		return nil, err
	}
	m, err := toDocument(doc)
	if err != nil {
		return nil, err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = bson.NewObjectID()
	}
	if c.discarding() {
		return m["_id"], nil
	}

	coll := c.s.lookup(c.db, c.name, true)
	if indexOfID(coll.docs, m["_id"]) >= 0 {
		return nil, fmt.Errorf("%w: _id %v in %s.%s", store.ErrDuplicateKey, m["_id"], c.db, c.name)
	}
	coll.docs = append(coll.docs, m)
	return m["_id"], nil
}

func (c *collHandle) InsertMany(ctx context.Context, docs []any) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpInsert, c.db, c.name); err != nil {
		return 0, err
	}

	prepared := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		m, err := toDocument(doc)
		if err != nil {
			return 0, err
		}
		if _, ok := m["_id"]; !ok {
			m["_id"] = bson.NewObjectID()
		}
		prepared = append(prepared, m)
	}
	if c.discarding() {
		return int64(len(prepared)), nil
	}

	coll := c.s.lookup(c.db, c.name, true)
	for i, m := range prepared {
		if indexOfID(coll.docs, m["_id"]) >= 0 || indexOfID(prepared[:i], m["_id"]) >= 0 {
			return 0, fmt.Errorf("%w: _id %v in %s.%s", store.ErrDuplicateKey, m["_id"], c.db, c.name)
		}
	}
	coll.docs = append(coll.docs, prepared...)
	return int64(len(prepared)), nil
}

func (c *collHandle) UpsertManyByID(ctx context.Context, docs []bson.M) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpUpsert, c.db, c.name); err != nil {
		return 0, err
	}
	if c.discarding() {
		return int64(len(docs)), nil
	}

	coll := c.s.lookup(c.db, c.name, true)
	for _, doc := range docs {
		m, err := toDocument(doc)
		if err != nil {
			return 0, err
		}
		id, ok := m["_id"]
		if !ok {
			return 0, fmt.Errorf("document without _id cannot be upserted into %s", c.name)
		}
		if i := indexOfID(coll.docs, id); i >= 0 {
			coll.docs[i] = m
		} else {
			coll.docs = append(coll.docs, m)
		}
	}
	return int64(len(docs)), nil
}

func (c *collHandle) FindOne(ctx context.Context, filter bson.M, result any) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpFind, c.db, c.name); err != nil {
		return err
	}
	matched, err := c.match(filter)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		return store.ErrNotFound
	}
	return decodeInto(c.s.lookup(c.db, c.name, false).docs[matched[0]], result)
}

func (c *collHandle) Find(ctx context.Context, filter bson.M, results any) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpFind, c.db, c.name); err != nil {
		return err
	}

	sliceVal := reflect.ValueOf(results)
	if sliceVal.Kind() != reflect.Ptr || sliceVal.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("results argument must be a pointer to a slice, got %T", results)
	}
	out := sliceVal.Elem()
	out.Set(reflect.MakeSlice(out.Type(), 0, 0))

	matched, err := c.match(filter)
	if err != nil {
		return err
	}
	coll := c.s.lookup(c.db, c.name, false)
	for _, i := range matched {
		elem := reflect.New(out.Type().Elem())
		if err := decodeInto(coll.docs[i], elem.Interface()); err != nil {
			return err
		}
		out.Set(reflect.Append(out, elem.Elem()))
	}
	return nil
}

func (c *collHandle) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpCount, c.db, c.name); err != nil {
		return 0, err
	}
	matched, err := c.match(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (c *collHandle) UpdateOne(ctx context.Context, filter, update bson.M) (store.UpdateResult, error) {
	return c.update(filter, update, false)
}

func (c *collHandle) UpdateMany(ctx context.Context, filter, update bson.M) (store.UpdateResult, error) {
	return c.update(filter, update, true)
}

func (c *collHandle) update(filter, update bson.M, many bool) (store.UpdateResult, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpUpdate, c.db, c.name); err != nil {
		return store.UpdateResult{}, err
	}
	normalizedUpdate, err := toDocument(update)
	if err != nil {
		return store.UpdateResult{}, err
	}
	matched, err := c.match(filter)
	if err != nil {
		return store.UpdateResult{}, err
	}
	if !many && len(matched) > 1 {
		matched = matched[:1]
	}

	var res store.UpdateResult
	coll := c.s.lookup(c.db, c.name, false)
	for _, i := range matched {
		res.MatchedCount++
		updated, err := applyUpdate(coll.docs[i], normalizedUpdate)
		if err != nil {
			return res, err
		}
		if !reflect.DeepEqual(updated, coll.docs[i]) {
			coll.docs[i] = updated
			res.ModifiedCount++
		}
	}
	return res, nil
}

func (c *collHandle) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	return c.delete(filter, false)
}

func (c *collHandle) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	return c.delete(filter, true)
}

func (c *collHandle) delete(filter bson.M, many bool) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpDelete, c.db, c.name); err != nil {
		return 0, err
	}
	matched, err := c.match(filter)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	if !many {
		matched = matched[:1]
	}

	coll := c.s.lookup(c.db, c.name, false)
	drop := make(map[int]bool, len(matched))
	for _, i := range matched {
		drop[i] = true
	}
	kept := coll.docs[:0]
	for i, doc := range coll.docs {
		if !drop[i] {
			kept = append(kept, doc)
		}
	}
	coll.docs = kept
	return int64(len(matched)), nil
}

func (c *collHandle) ListIndexNames(ctx context.Context) ([]string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpListIndexes, c.db, c.name); err != nil {
		return nil, err
	}
	coll := c.s.lookup(c.db, c.name, false)
	if coll == nil {
		return []string{}, nil
	}
	names := []string{"_id_"}
	for name := range coll.indexes {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names, nil
}

func (c *collHandle) CreateIndex(ctx context.Context, spec store.IndexSpec) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.fault(OpCreateIndex, c.db, c.name); err != nil {
		return "", err
	}
	coll := c.s.lookup(c.db, c.name, true)
	if existing, ok := coll.indexes[spec.Name]; ok {
		if !reflect.DeepEqual(existing, spec) {
			return "", fmt.Errorf("%w: index %s on %s.%s", store.ErrIndexConflict, spec.Name, c.db, c.name)
		}
		return spec.Name, nil
	}
	coll.indexes[spec.Name] = spec
	return spec.Name, nil
}

// match returns the positions of documents satisfying filter. Caller holds s.mu.
func (c *collHandle) match(filter bson.M) ([]int, error) {
	coll := c.s.lookup(c.db, c.name, false)
	if coll == nil {
		return nil, nil
	}
	normalized, err := toDocument(filter)
	if err != nil {
		return nil, err
	}

	var positions []int
	for i, doc := range coll.docs {
		ok, err := matches(doc, normalized)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, i)
		}
	}
	return positions, nil
}

func indexOfID(docs []bson.M, id any) int {
	for i, doc := range docs {
		if valuesEqual(doc["_id"], id) {
			return i
		}
	}
	return -1
}

// toDocument runs v through the BSON codec so stored values have the same
// types the driver would hand back.
func toDocument(v any) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("memstore: marshal document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("memstore: unmarshal document: %w", err)
	}
	if m == nil {
		m = bson.M{}
	}
	return m, nil
}

func decodeInto(doc bson.M, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memstore: marshal document: %w", err)
	}
	return bson.Unmarshal(raw, out)
}
