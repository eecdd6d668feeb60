package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/taskapp/internal/journal"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store/memstore"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func newTestMigrator(s *memstore.Store) (*Migrator, *journal.MemoryRepository) {
	log := zap.NewNop()
	runs := journal.NewMemoryRepository()
	return NewMigrator(s, sharedDB, NewProvisioner(s, log), runs, log), runs
}

func TestMigrateToSeparateMovesEveryRow(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	other := bson.NewObjectID().Hex()
	seedTenant(t, s, sharedDB, tenant, 3, 10)
	seedTenant(t, s, sharedDB, other, 2, 4)
	target := DeriveDatabaseName(tenant)

	m, runs := newTestMigrator(s)
	result := m.MigrateToSeparate(context.Background(), tenant, target)

	require.True(t, result.Success, result.ErrorMessage)
	assert.EqualValues(t, 3, result.ListsMigrated)
	assert.EqualValues(t, 10, result.ItemsMigrated)
	assert.Equal(t, model.DirectionToSeparate, result.Direction)
	assert.Equal(t, sharedDB, result.SourceDatabase)
	assert.Equal(t, target, result.TargetDatabase)
	assert.False(t, result.EndTime.Before(result.StartTime))

	assert.EqualValues(t, 3, countTenant(t, s, target, model.CollectionTodoLists, tenant))
	assert.EqualValues(t, 10, countTenant(t, s, target, model.CollectionTodoItems, tenant))
	assert.Zero(t, countTenant(t, s, sharedDB, model.CollectionTodoLists, tenant))
	assert.Zero(t, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))

	assert.EqualValues(t, 2, countTenant(t, s, sharedDB, model.CollectionTodoLists, other))
	assert.EqualValues(t, 4, countTenant(t, s, sharedDB, model.CollectionTodoItems, other))

	recorded, err := runs.List(context.Background(), tenant, 10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.True(t, recorded[0].Success)
	assert.EqualValues(t, 10, recorded[0].ItemsMigrated)
}

func TestMigrateKeepsDocumentsVerbatim(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	seedTenant(t, s, sharedDB, tenant, 1, 2)
	ctx := context.Background()

	var before []bson.M
	require.NoError(t, s.Database(sharedDB).Collection(model.CollectionTodoItems).Find(ctx, bson.M{}, &before))

	m, _ := newTestMigrator(s)
	target := DeriveDatabaseName(tenant)
	require.True(t, m.MigrateToSeparate(ctx, tenant, target).Success)

	var after []bson.M
	require.NoError(t, s.Database(target).Collection(model.CollectionTodoItems).Find(ctx, bson.M{}, &after))
	assert.ElementsMatch(t, before, after)
}

func TestMigrateAbortsWhenCopyIsIncomplete(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	seedTenant(t, s, sharedDB, tenant, 3, 10)
	target := DeriveDatabaseName(tenant)
	s.DiscardWrites(target, model.CollectionTodoItems)

	m, runs := newTestMigrator(s)
	result := m.MigrateToSeparate(context.Background(), tenant, target)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "integrity check failed")
	assert.EqualValues(t, 3, countTenant(t, s, sharedDB, model.CollectionTodoLists, tenant))
	assert.EqualValues(t, 10, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))

	recorded, err := runs.List(context.Background(), tenant, 0)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.False(t, recorded[0].Success)
}

func TestMigrateKeepsRowsWrittenAfterCopy(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	tenant := bson.NewObjectID().Hex()
	seedTenant(t, s, sharedDB, tenant, 1, 2)
	target := DeriveDatabaseName(tenant)

	var lateID bson.ObjectID
	client := &findHookClient{Client: s, afterFind: func(database, collection string) {
		if database != sharedDB || collection != model.CollectionTodoItems || !lateID.IsZero() {
			return
		}
		lateID = bson.NewObjectID()
		_, err := s.Database(sharedDB).Collection(model.CollectionTodoItems).InsertOne(ctx, model.TodoItem{
			ID:    lateID,
			Title: "late",
			AppID: strPtr(tenant),
		})
		require.NoError(t, err)
	}}
	log := zap.NewNop()
	m := NewMigrator(client, sharedDB, NewProvisioner(s, log), nil, log)

	result := m.MigrateToSeparate(ctx, tenant, target)

	require.True(t, result.Success, result.ErrorMessage)
	require.False(t, lateID.IsZero())
	assert.EqualValues(t, 2, result.ItemsMigrated)
	assert.EqualValues(t, 2, countTenant(t, s, target, model.CollectionTodoItems, tenant))
	assert.EqualValues(t, 1, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))

	var late model.TodoItem
	require.NoError(t, s.Database(sharedDB).Collection(model.CollectionTodoItems).FindOne(ctx, bson.M{model.FieldID: lateID}, &late))
	assert.Equal(t, "late", late.Title)

	// A rerun picks up what was left behind.
	result = m.MigrateToSeparate(ctx, tenant, target)
	require.True(t, result.Success, result.ErrorMessage)
	assert.EqualValues(t, 1, result.ItemsMigrated)
	assert.EqualValues(t, 3, countTenant(t, s, target, model.CollectionTodoItems, tenant))
	assert.Zero(t, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))
}

func TestMigrateLeavesSourceIntactOnCopyError(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	seedTenant(t, s, sharedDB, tenant, 2, 5)
	target := DeriveDatabaseName(tenant)
	boom := errors.New("connection reset")
	s.Fail(memstore.OpUpsert, target, model.CollectionTodoItems, boom)

	m, _ := newTestMigrator(s)
	result := m.MigrateToSeparate(context.Background(), tenant, target)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "connection reset")
	assert.EqualValues(t, 2, countTenant(t, s, sharedDB, model.CollectionTodoLists, tenant))
	assert.EqualValues(t, 5, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))
}

func TestMigrateCanBeRedrivenAfterPartialDelete(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	seedTenant(t, s, sharedDB, tenant, 3, 10)
	target := DeriveDatabaseName(tenant)
	s.Fail(memstore.OpDelete, sharedDB, model.CollectionTodoItems, errors.New("primary stepped down"))

	m, _ := newTestMigrator(s)
	first := m.MigrateToSeparate(context.Background(), tenant, target)
	require.False(t, first.Success)
	assert.Zero(t, countTenant(t, s, sharedDB, model.CollectionTodoLists, tenant))
	assert.EqualValues(t, 10, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))

	s.ClearFaults()
	second := m.MigrateToSeparate(context.Background(), tenant, target)
	require.True(t, second.Success, second.ErrorMessage)
	assert.EqualValues(t, 0, second.ListsMigrated)
	assert.EqualValues(t, 10, second.ItemsMigrated)

	assert.EqualValues(t, 3, countTenant(t, s, target, model.CollectionTodoLists, tenant))
	assert.EqualValues(t, 10, countTenant(t, s, target, model.CollectionTodoItems, tenant))
	assert.Zero(t, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))
}

func TestMigrateToSharedMirrorsToSeparate(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	dedicated := DeriveDatabaseName(tenant)
	seedTenant(t, s, dedicated, tenant, 3, 10)

	m, _ := newTestMigrator(s)
	result := m.MigrateToShared(context.Background(), tenant, dedicated)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, model.DirectionToShared, result.Direction)
	assert.Equal(t, dedicated, result.SourceDatabase)
	assert.Equal(t, sharedDB, result.TargetDatabase)
	assert.EqualValues(t, 3, countTenant(t, s, sharedDB, model.CollectionTodoLists, tenant))
	assert.EqualValues(t, 10, countTenant(t, s, sharedDB, model.CollectionTodoItems, tenant))
	assert.Zero(t, countTenant(t, s, dedicated, model.CollectionTodoLists, tenant))
	assert.Zero(t, countTenant(t, s, dedicated, model.CollectionTodoItems, tenant))
}

func TestMigrateEmptyTenant(t *testing.T) {
	s := memstore.New()
	tenant := bson.NewObjectID().Hex()
	target := DeriveDatabaseName(tenant)

	m, _ := newTestMigrator(s)
	result := m.MigrateToSeparate(context.Background(), tenant, target)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Zero(t, result.ListsMigrated)
	assert.Zero(t, result.ItemsMigrated)

	names, err := s.Database(target).ListCollectionNames(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestMigratePreconditions(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		database string
		toShared bool
	}{
		{name: "empty tenant", tenantID: "", database: "app_x"},
		{name: "empty database", tenantID: "t1", database: ""},
		{name: "shared database as target", tenantID: "t1", database: sharedDB},
		{name: "forbidden characters", tenantID: "t1", database: "app_a.b"},
		{name: "shared database as source", tenantID: "t1", database: sharedDB, toShared: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memstore.New()
			m, _ := newTestMigrator(s)

			var result *model.MigrationResult
			if tt.toShared {
				result = m.MigrateToShared(context.Background(), tt.tenantID, tt.database)
			} else {
				result = m.MigrateToSeparate(context.Background(), tt.tenantID, tt.database)
			}

			assert.False(t, result.Success)
			assert.Contains(t, result.ErrorMessage, "precondition")
			names, err := s.ListDatabaseNames(context.Background())
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}
