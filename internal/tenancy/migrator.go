package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

var (
	// ErrIntegrityCheck means the target did not hold every copied row; the
	// source was left untouched.
	ErrIntegrityCheck = errors.New("integrity check failed")

	// ErrPrecondition rejects a migration before any store operation.
	ErrPrecondition = errors.New("migration precondition failed")
)

// Journal records finished migration runs.
type Journal interface {
	Record(ctx context.Context, result *model.MigrationResult) error
}

// Migrator moves one tenant's lists and items between the shared database and
// its dedicated database. The protocol is copy, verify, then delete: a failure
// before the delete step leaves the source intact, the copy upserts by _id so
// a rerun after a partial failure converges instead of duplicating, and the
// delete removes only the ids that were copied and verified.
//
// Concurrent migrations of the same tenant are not excluded here; callers
// serialize mode switches per tenant.
type Migrator struct {
	client      store.Client
	shared      string
	provisioner *Provisioner
	journal     Journal
	log         *zap.Logger
}

// NewMigrator returns a migrator whose shared database is sharedDatabase.
func NewMigrator(client store.Client, sharedDatabase string, provisioner *Provisioner, journal Journal, log *zap.Logger) *Migrator {
	return &Migrator{
		client:      client,
		shared:      sharedDatabase,
		provisioner: provisioner,
		journal:     journal,
		log:         log,
	}
}

// MigrateToSeparate moves tenantID's rows from the shared database into databaseName.
func (m *Migrator) MigrateToSeparate(ctx context.Context, tenantID, databaseName string) *model.MigrationResult {
	return m.run(ctx, model.DirectionToSeparate, tenantID, m.shared, databaseName)
}

// MigrateToShared moves tenantID's rows from databaseName back into the shared database.
func (m *Migrator) MigrateToShared(ctx context.Context, tenantID, databaseName string) *model.MigrationResult {
	return m.run(ctx, model.DirectionToShared, tenantID, databaseName, m.shared)
}

func (m *Migrator) run(ctx context.Context, direction model.MigrationDirection, tenantID, source, target string) *model.MigrationResult {
	result := &model.MigrationResult{
		TenantID:       tenantID,
		Direction:      direction,
		SourceDatabase: source,
		TargetDatabase: target,
		StartTime:      time.Now(),
	}
	log := m.log.With(
		zap.String("tenant_id", tenantID),
		zap.String("direction", string(direction)),
		zap.String("source", source),
		zap.String("target", target),
	)
	log.Info("Starting tenant migration")

	err := m.migrate(ctx, direction, result)

	result.EndTime = time.Now()
	result.Success = err == nil
	if err != nil {
		result.ErrorMessage = err.Error()
		log.Error("Tenant migration failed",
			zap.Int64("lists", result.ListsMigrated),
			zap.Int64("items", result.ItemsMigrated),
			zap.Error(err))
		prometheus.RecordError(errorType(err))
	} else {
		log.Info("Tenant migration completed",
			zap.Int64("lists", result.ListsMigrated),
			zap.Int64("items", result.ItemsMigrated),
			zap.Duration("duration", result.Duration()))
	}
	prometheus.RecordMigration(string(direction), result.Success, result.Duration())

	if m.journal != nil {
		if err := m.journal.Record(ctx, result); err != nil {
			log.Warn("Failed to record migration run", zap.Error(err))
		}
	}
	return result
}

func (m *Migrator) migrate(ctx context.Context, direction model.MigrationDirection, result *model.MigrationResult) error {
	dedicated := result.TargetDatabase
	if direction == model.DirectionToShared {
		dedicated = result.SourceDatabase
	}
	if result.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrPrecondition)
	}
	if !ValidDatabaseName(dedicated) || dedicated == m.shared {
		return fmt.Errorf("%w: %q is not a dedicated database name", ErrPrecondition, dedicated)
	}

	if direction == model.DirectionToSeparate {
		if err := m.provisioner.CreateDedicatedDatabase(ctx, dedicated); err != nil {
			return fmt.Errorf("failed to provision %s: %w", dedicated, err)
		}
	}

	source := m.client.Database(result.SourceDatabase)
	target := m.client.Database(result.TargetDatabase)
	scope := bson.M{model.FieldAppID: result.TenantID}

	// Lists are copied before items, and both are verified before anything
	// is deleted from the source.
	listIDs, err := m.copyCollection(ctx, source, target, model.CollectionTodoLists, scope)
	if err != nil {
		return err
	}
	result.ListsMigrated = int64(len(listIDs))

	itemIDs, err := m.copyCollection(ctx, source, target, model.CollectionTodoItems, scope)
	if err != nil {
		return err
	}
	result.ItemsMigrated = int64(len(itemIDs))

	if err := m.verify(ctx, target, model.CollectionTodoLists, scope, listIDs); err != nil {
		return err
	}
	if err := m.verify(ctx, target, model.CollectionTodoItems, scope, itemIDs); err != nil {
		return err
	}

	// Only the verified rows leave the source. Anything written to the source
	// after the copy stays there for the next run to pick up.
	copied := map[string]bson.A{
		model.CollectionTodoLists: listIDs,
		model.CollectionTodoItems: itemIDs,
	}
	for _, name := range model.TenantCollections {
		if len(copied[name]) == 0 {
			continue
		}
		if _, err := source.Collection(name).DeleteMany(ctx, scopedIDs(scope, copied[name])); err != nil {
			return fmt.Errorf("verified copy is complete but cleanup of %s.%s failed: %w", source.Name(), name, err)
		}
	}

	prometheus.RecordDocumentsMigrated(model.CollectionTodoLists, string(direction), result.ListsMigrated)
	prometheus.RecordDocumentsMigrated(model.CollectionTodoItems, string(direction), result.ItemsMigrated)
	return nil
}

// copyCollection copies every scoped document of name from source to target
// verbatim and returns the copied ids.
func (m *Migrator) copyCollection(ctx context.Context, source, target store.Database, name string, scope bson.M) (bson.A, error) {
	var docs []bson.M
	if err := source.Collection(name).Find(ctx, scope, &docs); err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", source.Name(), name, err)
	}
	if len(docs) == 0 {
		return bson.A{}, nil
	}

	ids := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc[model.FieldID])
	}
	if _, err := target.Collection(name).UpsertManyByID(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to copy %s into %s: %w", name, target.Name(), err)
	}
	return ids, nil
}

// verify checks that every copied id is present in target under the tenant.
func (m *Migrator) verify(ctx context.Context, target store.Database, name string, scope bson.M, ids bson.A) error {
	if len(ids) == 0 {
		return nil
	}

	found, err := target.Collection(name).CountDocuments(ctx, scopedIDs(scope, ids))
	if err != nil {
		return fmt.Errorf("failed to verify %s.%s: %w", target.Name(), name, err)
	}
	if found != int64(len(ids)) {
		return fmt.Errorf("%w: expected %d %s in %s, found %d", ErrIntegrityCheck, len(ids), name, target.Name(), found)
	}

	// Rows left behind by an earlier run are not ours to delete.
	total, err := target.Collection(name).CountDocuments(ctx, scope)
	if err == nil && total > found {
		m.log.Warn("Target holds tenant rows that were not part of this copy",
			zap.String("database", target.Name()),
			zap.String("collection", name),
			zap.Int64("copied", found),
			zap.Int64("total", total))
	}
	return nil
}

// scopedIDs narrows scope to the documents whose _id is in ids.
func scopedIDs(scope bson.M, ids bson.A) bson.M {
	filter := bson.M{model.FieldID: bson.M{"$in": ids}}
	for k, v := range scope {
		filter[k] = v
	}
	return filter
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrIntegrityCheck):
		return "integrity_check"
	case errors.Is(err, ErrPrecondition):
		return "migration_precondition"
	default:
		return "migration_store_error"
	}
}
