package tenancy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/store/memstore"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const sharedDB = "taskapp"

func strPtr(s string) *string { return &s }

func insertApp(t *testing.T, s *memstore.Store, app *model.App) {
	t.Helper()
	if app.ID.IsZero() {
		app.ID = bson.NewObjectID()
	}
	if app.TenantMode == "" {
		app.TenantMode = model.TenantModeShared
	}
	_, err := s.Database(sharedDB).Collection(model.CollectionUserApps).InsertOne(context.Background(), app)
	require.NoError(t, err)
}

// seedTenant writes lists task lists and items task items spread across them,
// all scoped to tenantID, into dbName. Items need at least one list.
func seedTenant(t *testing.T, s *memstore.Store, dbName, tenantID string, lists, items int) {
	t.Helper()
	require.True(t, lists > 0 || items == 0, "seedTenant: %d items need at least one list", items)
	ctx := context.Background()
	db := s.Database(dbName)

	listIDs := make([]bson.ObjectID, lists)
	listDocs := make([]any, 0, lists)
	for i := range listIDs {
		listIDs[i] = bson.NewObjectID()
		listDocs = append(listDocs, model.TodoList{
			ID:        listIDs[i],
			UserID:    "user-1",
			AppID:     strPtr(tenantID),
			Name:      fmt.Sprintf("list %d", i),
			ItemIDs:   []string{},
			CreatedAt: time.Now(),
		})
	}
	_, err := db.Collection(model.CollectionTodoLists).InsertMany(ctx, listDocs)
	require.NoError(t, err)

	itemDocs := make([]any, 0, items)
	for i := 0; i < items; i++ {
		itemDocs = append(itemDocs, model.TodoItem{
			ID:         bson.NewObjectID(),
			Title:      fmt.Sprintf("item %d", i),
			Status:     model.StatusPending,
			TodoListID: listIDs[i%lists].Hex(),
			AppID:      strPtr(tenantID),
			CreatedAt:  time.Now(),
		})
	}
	if len(itemDocs) > 0 {
		_, err = db.Collection(model.CollectionTodoItems).InsertMany(ctx, itemDocs)
		require.NoError(t, err)
	}
}

func countTenant(t *testing.T, c store.Client, dbName, collName, tenantID string) int64 {
	t.Helper()
	n, err := c.Database(dbName).Collection(collName).CountDocuments(context.Background(), bson.M{model.FieldAppID: tenantID})
	require.NoError(t, err)
	return n
}

// findHookClient calls afterFind after every successful Find, so tests can
// write into the store while a migration is between its copy and delete steps.
type findHookClient struct {
	store.Client
	afterFind func(database, collection string)
}

func (c *findHookClient) Database(name string) store.Database {
	return &findHookDatabase{Database: c.Client.Database(name), afterFind: c.afterFind}
}

type findHookDatabase struct {
	store.Database
	afterFind func(database, collection string)
}

func (d *findHookDatabase) Collection(name string) store.Collection {
	return &findHookCollection{Collection: d.Database.Collection(name), afterFind: d.afterFind}
}

type findHookCollection struct {
	store.Collection
	afterFind func(database, collection string)
}

func (c *findHookCollection) Find(ctx context.Context, filter bson.M, results any) error {
	if err := c.Collection.Find(ctx, filter, results); err != nil {
		return err
	}
	c.afterFind(c.DatabaseName(), c.Name())
	return nil
}
