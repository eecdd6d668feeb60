// Package journal keeps a history of tenant migration runs.
package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suteetoe/taskapp/internal/model"
)

// Run is one recorded tenant migration.
type Run struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID       string    `json:"tenant_id" gorm:"type:varchar(64);index;not null"`
	Direction      string    `json:"direction" gorm:"type:varchar(20);not null"`
	SourceDatabase string    `json:"source_database" gorm:"type:varchar(64)"`
	TargetDatabase string    `json:"target_database" gorm:"type:varchar(64)"`
	ListsMigrated  int64     `json:"lists_migrated"`
	ItemsMigrated  int64     `json:"items_migrated"`
	Success        bool      `json:"success" gorm:"index"`
	ErrorMessage   string    `json:"error_message,omitempty" gorm:"type:text"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName keeps the table name stable regardless of the struct name.
func (Run) TableName() string {
	return "migration_runs"
}

// NewRun converts a migration result into a journal entry.
func NewRun(result *model.MigrationResult) *Run {
	return &Run{
		ID:             uuid.New().String(),
		TenantID:       result.TenantID,
		Direction:      string(result.Direction),
		SourceDatabase: result.SourceDatabase,
		TargetDatabase: result.TargetDatabase,
		ListsMigrated:  result.ListsMigrated,
		ItemsMigrated:  result.ItemsMigrated,
		Success:        result.Success,
		ErrorMessage:   result.ErrorMessage,
		StartedAt:      result.StartTime,
		FinishedAt:     result.EndTime,
	}
}

// Repository records and lists migration runs.
type Repository interface {
	Record(ctx context.Context, result *model.MigrationResult) error
	// List returns the newest runs first; an empty tenantID lists every tenant.
	List(ctx context.Context, tenantID string, limit int) ([]Run, error)
}

// MemoryRepository keeps runs in process. Used when no journal database is
// configured and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	runs []Run
}

// NewMemoryRepository returns an empty in-process journal.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Record(ctx context.Context, result *model.MigrationResult) error {
	run := NewRun(result)
	run.CreatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var runs []Run
	for _, run := range r.runs {
		if tenantID == "" || run.TenantID == tenantID {
			runs = append(runs, run)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
