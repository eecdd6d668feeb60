package journal

import (
	"context"
	"fmt"

	"github.com/suteetoe/taskapp/internal/model"
	"gorm.io/gorm"
)

// GormRepository stores runs in the relational journal database.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the journal table and returns a repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("failed to run journal migrations: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Record(ctx context.Context, result *model.MigrationResult) error {
	if err := r.db.WithContext(ctx).Create(NewRun(result)).Error; err != nil {
		return fmt.Errorf("failed to record migration run: %w", err)
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list migration runs: %w", err)
	}
	return runs, nil
}
