package model

// Collection names.
const (
	CollectionTodoLists = "todoLists"
	CollectionTodoItems = "todoItems"
	CollectionUserApps  = "userApps"
)

// Document field names shared by queries, updates and indexes.
const (
	FieldID           = "_id"
	FieldUserID       = "userId"
	FieldAppID        = "appId"
	FieldTodoListID   = "todoListId"
	FieldItemIDs      = "itemIds"
	FieldStatus       = "status"
	FieldTenantMode   = "tenantMode"
	FieldDatabaseName = "databaseName"
	FieldMigrating    = "migrating"
	FieldUpdatedAt    = "updatedAt"
)

// TenantCollections are the collection kinds that move with a tenant.
var TenantCollections = []string{CollectionTodoLists, CollectionTodoItems}
