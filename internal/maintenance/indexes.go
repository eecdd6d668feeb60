// Package maintenance holds the administrative sweeps: legacy-record backfill,
// index provisioning and reclaiming unused tenant databases.
package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func asc(fields ...string) []store.IndexKey {
	keys := make([]store.IndexKey, len(fields))
	for i, f := range fields {
		keys[i] = store.IndexKey{Field: f, Order: 1}
	}
	return keys
}

var (
	todoListIndexes = []store.IndexSpec{
		{Name: "idx_userId_appId", Keys: asc(model.FieldUserID, model.FieldAppID)},
		{Name: "idx_appId", Keys: asc(model.FieldAppID)},
		{Name: "idx_userId", Keys: asc(model.FieldUserID)},
	}
	todoItemIndexes = []store.IndexSpec{
		{Name: "idx_appId_todoListId", Keys: asc(model.FieldAppID, model.FieldTodoListID)},
		{Name: "idx_todoListId", Keys: asc(model.FieldTodoListID)},
		{Name: "idx_appId", Keys: asc(model.FieldAppID)},
	}
	// userApps only exists in the shared database.
	userAppIndexes = []store.IndexSpec{
		{Name: "idx_userId", Keys: asc(model.FieldUserID)},
		{Name: "idx_tenantMode", Keys: asc(model.FieldTenantMode)},
		{Name: "idx_databaseName", Keys: asc(model.FieldDatabaseName)},
		{Name: "idx_userId_tenantMode", Keys: asc(model.FieldUserID, model.FieldTenantMode)},
	}
)

// ErrInvalidDatabase rejects index work on a database that is neither the
// shared database nor a dedicated tenant database.
var ErrInvalidDatabase = errors.New("not a task database")

// IndexService creates the named indexes every database needs.
type IndexService struct {
	resolver *tenancy.Resolver
	client   store.Client
	log      *zap.Logger
}

// NewIndexService returns an index service over the resolver's store.
func NewIndexService(client store.Client, resolver *tenancy.Resolver, log *zap.Logger) *IndexService {
	return &IndexService{resolver: resolver, client: client, log: log}
}

// EnsureIndexes creates the indexes of the shared database and returns how
// many were new.
func (s *IndexService) EnsureIndexes(ctx context.Context) (int, error) {
	result, err := s.ensure(ctx, s.resolver.SharedDatabaseName())
	return result.Total(), err
}

// EnsureIndexesForDatabase creates the indexes of databaseName, or of the
// shared database when databaseName is empty. Existing indexes are skipped.
func (s *IndexService) EnsureIndexesForDatabase(ctx context.Context, databaseName string) *model.IndexCreationResult {
	if databaseName == "" {
		databaseName = s.resolver.SharedDatabaseName()
	}
	if err := s.CheckDatabaseName(databaseName); err != nil {
		return &model.IndexCreationResult{DatabaseName: databaseName, ErrorMessage: err.Error()}
	}
	result, err := s.ensure(ctx, databaseName)
	if err != nil {
		result.ErrorMessage = err.Error()
		s.log.Error("Index creation failed", zap.String("database", databaseName), zap.Error(err))
		prometheus.RecordError("index_creation")
		return result
	}
	result.Success = true
	return result
}

// EnsureIndexesForAllTenantDatabases applies the index set to the database of
// every separate-mode tenant.
func (s *IndexService) EnsureIndexesForAllTenantDatabases(ctx context.Context) (map[string]*model.IndexCreationResult, error) {
	var apps []model.App
	if err := s.resolver.Apps().Find(ctx, bson.M{model.FieldTenantMode: model.TenantModeSeparate}, &apps); err != nil {
		return nil, fmt.Errorf("failed to list separate-mode apps: %w", err)
	}

	results := make(map[string]*model.IndexCreationResult, len(apps))
	for i := range apps {
		name := tenancy.PlacementOf(&apps[i]).DatabaseName
		if _, done := results[name]; done {
			continue
		}
		results[name] = s.EnsureIndexesForDatabase(ctx, name)
	}
	s.log.Info("Tenant database indexes ensured", zap.Int("databases", len(results)))
	return results, nil
}

// GetIndexStatus lists the index names of databaseName, or of the shared
// database when databaseName is empty.
func (s *IndexService) GetIndexStatus(ctx context.Context, databaseName string) (*model.IndexStatus, error) {
	shared := s.resolver.SharedDatabaseName()
	if databaseName == "" {
		databaseName = shared
	}
	if err := s.CheckDatabaseName(databaseName); err != nil {
		return nil, err
	}
	db := s.client.Database(databaseName)

	status := &model.IndexStatus{DatabaseName: databaseName}
	var err error
	if status.TodoListsIndexes, err = db.Collection(model.CollectionTodoLists).ListIndexNames(ctx); err != nil {
		return nil, fmt.Errorf("failed to list %s indexes: %w", model.CollectionTodoLists, err)
	}
	if status.TodoItemsIndexes, err = db.Collection(model.CollectionTodoItems).ListIndexNames(ctx); err != nil {
		return nil, fmt.Errorf("failed to list %s indexes: %w", model.CollectionTodoItems, err)
	}
	if databaseName == shared {
		if status.UserAppsIndexes, err = db.Collection(model.CollectionUserApps).ListIndexNames(ctx); err != nil {
			return nil, fmt.Errorf("failed to list %s indexes: %w", model.CollectionUserApps, err)
		}
	}
	return status, nil
}

// CheckDatabaseName accepts the shared database and valid dedicated names.
func (s *IndexService) CheckDatabaseName(databaseName string) error {
	if databaseName == s.resolver.SharedDatabaseName() || tenancy.ValidDatabaseName(databaseName) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDatabase, databaseName)
}

// IndexesExist reports whether the shared database has every named index.
func (s *IndexService) IndexesExist(ctx context.Context) (bool, error) {
	status, err := s.GetIndexStatus(ctx, "")
	if err != nil {
		return false, err
	}
	return containsAll(status.TodoListsIndexes, todoListIndexes) &&
		containsAll(status.TodoItemsIndexes, todoItemIndexes) &&
		containsAll(status.UserAppsIndexes, userAppIndexes), nil
}

func (s *IndexService) ensure(ctx context.Context, databaseName string) (*model.IndexCreationResult, error) {
	result := &model.IndexCreationResult{DatabaseName: databaseName}
	db := s.client.Database(databaseName)

	var err error
	if result.TodoListsIndexesCreated, err = s.ensureCollection(ctx, db.Collection(model.CollectionTodoLists), todoListIndexes); err != nil {
		return result, err
	}
	if result.TodoItemsIndexesCreated, err = s.ensureCollection(ctx, db.Collection(model.CollectionTodoItems), todoItemIndexes); err != nil {
		return result, err
	}
	if databaseName == s.resolver.SharedDatabaseName() {
		if result.UserAppsIndexesCreated, err = s.ensureCollection(ctx, db.Collection(model.CollectionUserApps), userAppIndexes); err != nil {
			return result, err
		}
	}

	s.log.Info("Indexes ensured",
		zap.String("database", databaseName),
		zap.Int("todo_lists", result.TodoListsIndexesCreated),
		zap.Int("todo_items", result.TodoItemsIndexesCreated),
		zap.Int("user_apps", result.UserAppsIndexesCreated))
	return result, nil
}

// ensureCollection creates each spec whose name is not yet on coll. A name
// clash with different keys counts as nothing created.
func (s *IndexService) ensureCollection(ctx context.Context, coll store.Collection, specs []store.IndexSpec) (int, error) {
	existing, err := coll.ListIndexNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexes of %s.%s: %w", coll.DatabaseName(), coll.Name(), err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	created := 0
	for _, spec := range specs {
		if present[spec.Name] {
			continue
		}
		_, err := coll.CreateIndex(ctx, spec)
		if errors.Is(err, store.ErrIndexConflict) {
			s.log.Warn("Index exists with different options",
				zap.String("database", coll.DatabaseName()),
				zap.String("collection", coll.Name()),
				zap.String("index", spec.Name))
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to create index %s on %s.%s: %w", spec.Name, coll.DatabaseName(), coll.Name(), err)
		}
		created++
	}
	prometheus.RecordIndexesCreated(coll.Name(), created)
	return created, nil
}

func containsAll(names []string, specs []store.IndexSpec) bool {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, spec := range specs {
		if !have[spec.Name] {
			return false
		}
	}
	return true
}
