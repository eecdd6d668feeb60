package model

import "time"

// MigrationDirection names which way a tenant's data moves.
type MigrationDirection string

const (
	DirectionToSeparate MigrationDirection = "to_separate"
	DirectionToShared   MigrationDirection = "to_shared"
)

// MigrationResult reports one tenant data move between databases.
type MigrationResult struct {
	Success        bool               `json:"success"`
	TenantID       string             `json:"tenantId"`
	Direction      MigrationDirection `json:"direction"`
	SourceDatabase string             `json:"sourceDatabase"`
	TargetDatabase string             `json:"targetDatabase"`
	ListsMigrated  int64              `json:"listsMigrated"`
	ItemsMigrated  int64              `json:"itemsMigrated"`
	ErrorMessage   string             `json:"errorMessage,omitempty"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        time.Time          `json:"endTime"`
}

// Duration is the wall time of the run.
func (r *MigrationResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// BackfillResult reports a legacy-normalization run.
type BackfillResult struct {
	Success          bool          `json:"success"`
	TodoListsUpdated int64         `json:"todoListsUpdated"`
	TodoItemsUpdated int64         `json:"todoItemsUpdated"`
	UserAppsUpdated  int64         `json:"userAppsUpdated"`
	IndexesCreated   int           `json:"indexesCreated"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// MigrationStatus is a dry-run view of what a backfill would touch.
type MigrationStatus struct {
	IsMigrationNeeded      bool  `json:"isMigrationNeeded"`
	TodoListsNeedingUpdate int64 `json:"todoListsNeedingUpdate"`
	TodoItemsNeedingUpdate int64 `json:"todoItemsNeedingUpdate"`
	UserAppsNeedingUpdate  int64 `json:"userAppsNeedingUpdate"`
	IndexesExist           bool  `json:"indexesExist"`
}

// IndexCreationResult reports index provisioning on one database.
type IndexCreationResult struct {
	Success                 bool   `json:"success"`
	DatabaseName            string `json:"databaseName"`
	TodoListsIndexesCreated int    `json:"todoListsIndexesCreated"`
	TodoItemsIndexesCreated int    `json:"todoItemsIndexesCreated"`
	UserAppsIndexesCreated  int    `json:"userAppsIndexesCreated"`
	ErrorMessage            string `json:"errorMessage,omitempty"`
}

// Total is the number of indexes created across collections.
func (r *IndexCreationResult) Total() int {
	return r.TodoListsIndexesCreated + r.TodoItemsIndexesCreated + r.UserAppsIndexesCreated
}

// IndexStatus lists index names per collection of one database.
type IndexStatus struct {
	DatabaseName     string   `json:"databaseName"`
	TodoListsIndexes []string `json:"todoListsIndexes"`
	TodoItemsIndexes []string `json:"todoItemsIndexes"`
	UserAppsIndexes  []string `json:"userAppsIndexes,omitempty"`
}
