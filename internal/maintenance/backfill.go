package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// legacyTaskFilter selects lists or items written before appId existed, or
// carrying the empty-string default older clients wrote.
func legacyTaskFilter() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{model.FieldAppID: bson.M{"$exists": false}},
		bson.M{model.FieldAppID: ""},
	}}
}

// legacyAppFilter selects app records that are not yet in the canonical
// shared shape: tenantMode "shared" with an explicit null databaseName.
func legacyAppFilter() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{model.FieldTenantMode: nil},
		bson.M{model.FieldTenantMode: ""},
		bson.M{model.FieldTenantMode: model.TenantModeShared, model.FieldDatabaseName: bson.M{"$exists": false}},
		bson.M{model.FieldTenantMode: model.TenantModeShared, model.FieldDatabaseName: bson.M{"$ne": nil}},
	}}
}

// unnamedSeparateFilter selects separate-mode apps that lost their databaseName.
func unnamedSeparateFilter() bson.M {
	return bson.M{model.FieldTenantMode: model.TenantModeSeparate, model.FieldDatabaseName: nil}
}

// BackfillService normalizes records created before tenants existed.
type BackfillService struct {
	resolver *tenancy.Resolver
	indexes  *IndexService
	log      *zap.Logger
}

// NewBackfillService returns a backfill over the resolver's shared database.
func NewBackfillService(resolver *tenancy.Resolver, indexes *IndexService, log *zap.Logger) *BackfillService {
	return &BackfillService{resolver: resolver, indexes: indexes, log: log}
}

// RunMigration normalizes legacy lists, items and apps, then ensures the
// shared indexes. Each step is idempotent; a failure stops the run and the
// result carries the counts accumulated so far.
func (s *BackfillService) RunMigration(ctx context.Context) *model.BackfillResult {
	start := time.Now()
	result := &model.BackfillResult{}

	err := s.run(ctx, result)
	result.Duration = time.Since(start)
	if err != nil {
		result.ErrorMessage = err.Error()
		s.log.Error("Backfill failed",
			zap.Int64("todo_lists", result.TodoListsUpdated),
			zap.Int64("todo_items", result.TodoItemsUpdated),
			zap.Int64("user_apps", result.UserAppsUpdated),
			zap.Error(err))
		prometheus.RecordError("backfill")
		return result
	}

	result.Success = true
	s.log.Info("Backfill completed",
		zap.Int64("todo_lists", result.TodoListsUpdated),
		zap.Int64("todo_items", result.TodoItemsUpdated),
		zap.Int64("user_apps", result.UserAppsUpdated),
		zap.Int("indexes_created", result.IndexesCreated),
		zap.Duration("duration", result.Duration))
	return result
}

func (s *BackfillService) run(ctx context.Context, result *model.BackfillResult) error {
	shared := s.resolver.Shared()
	clearAppID := bson.M{"$set": bson.M{model.FieldAppID: nil}}

	lists, err := shared.Collection(model.CollectionTodoLists).UpdateMany(ctx, legacyTaskFilter(), clearAppID)
	if err != nil {
		return fmt.Errorf("failed to backfill %s: %w", model.CollectionTodoLists, err)
	}
	result.TodoListsUpdated = lists.ModifiedCount
	prometheus.RecordBackfill(model.CollectionTodoLists, lists.ModifiedCount)

	items, err := shared.Collection(model.CollectionTodoItems).UpdateMany(ctx, legacyTaskFilter(), clearAppID)
	if err != nil {
		return fmt.Errorf("failed to backfill %s: %w", model.CollectionTodoItems, err)
	}
	result.TodoItemsUpdated = items.ModifiedCount
	prometheus.RecordBackfill(model.CollectionTodoItems, items.ModifiedCount)

	apps, err := s.resolver.Apps().UpdateMany(ctx, legacyAppFilter(), bson.M{"$set": bson.M{
		model.FieldTenantMode:   model.TenantModeShared,
		model.FieldDatabaseName: nil,
	}})
	if err != nil {
		return fmt.Errorf("failed to backfill %s: %w", model.CollectionUserApps, err)
	}
	result.UserAppsUpdated = apps.ModifiedCount

	repaired, err := s.repairSeparateApps(ctx)
	result.UserAppsUpdated += repaired
	if err != nil {
		return err
	}
	prometheus.RecordBackfill(model.CollectionUserApps, result.UserAppsUpdated)

	created, err := s.indexes.EnsureIndexes(ctx)
	result.IndexesCreated = created
	if err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return nil
}

// repairSeparateApps restores the derived databaseName of separate-mode apps
// that lost it. Forcing them to shared would strand their data.
func (s *BackfillService) repairSeparateApps(ctx context.Context) (int64, error) {
	var broken []model.App
	if err := s.resolver.Apps().Find(ctx, unnamedSeparateFilter(), &broken); err != nil {
		return 0, fmt.Errorf("failed to find separate apps without a database name: %w", err)
	}

	var repaired int64
	for i := range broken {
		name := tenancy.DeriveDatabaseName(broken[i].TenantID())
		res, err := s.resolver.Apps().UpdateOne(ctx,
			bson.M{model.FieldID: broken[i].ID, model.FieldDatabaseName: nil},
			bson.M{"$set": bson.M{model.FieldDatabaseName: name}})
		if err != nil {
			return repaired, fmt.Errorf("failed to repair app %s: %w", broken[i].TenantID(), err)
		}
		repaired += res.ModifiedCount
		s.resolver.Invalidate(broken[i].TenantID())
		s.log.Warn("Restored missing database name", zap.String("app_id", broken[i].TenantID()), zap.String("database", name))
	}
	return repaired, nil
}

// GetMigrationStatus counts what RunMigration would touch without changing anything.
func (s *BackfillService) GetMigrationStatus(ctx context.Context) (*model.MigrationStatus, error) {
	shared := s.resolver.Shared()
	status := &model.MigrationStatus{}

	var err error
	if status.TodoListsNeedingUpdate, err = shared.Collection(model.CollectionTodoLists).CountDocuments(ctx, legacyTaskFilter()); err != nil {
		return nil, fmt.Errorf("failed to count legacy %s: %w", model.CollectionTodoLists, err)
	}
	if status.TodoItemsNeedingUpdate, err = shared.Collection(model.CollectionTodoItems).CountDocuments(ctx, legacyTaskFilter()); err != nil {
		return nil, fmt.Errorf("failed to count legacy %s: %w", model.CollectionTodoItems, err)
	}
	legacyApps, err := s.resolver.Apps().CountDocuments(ctx, legacyAppFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to count legacy %s: %w", model.CollectionUserApps, err)
	}
	unnamed, err := s.resolver.Apps().CountDocuments(ctx, unnamedSeparateFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to count separate apps without a database name: %w", err)
	}
	status.UserAppsNeedingUpdate = legacyApps + unnamed

	if status.IndexesExist, err = s.indexes.IndexesExist(ctx); err != nil {
		return nil, err
	}

	status.IsMigrationNeeded = status.TodoListsNeedingUpdate > 0 ||
		status.TodoItemsNeedingUpdate > 0 ||
		status.UserAppsNeedingUpdate > 0 ||
		!status.IndexesExist

	prometheus.UpdatePendingBackfill(model.CollectionTodoLists, status.TodoListsNeedingUpdate)
	prometheus.UpdatePendingBackfill(model.CollectionTodoItems, status.TodoItemsNeedingUpdate)
	prometheus.UpdatePendingBackfill(model.CollectionUserApps, status.UserAppsNeedingUpdate)
	return status, nil
}
