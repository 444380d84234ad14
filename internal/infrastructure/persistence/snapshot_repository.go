package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSnapshotRepository stores last-known datasets in SQLite
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new snapshot repository
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// SaveSnapshot replaces the dataset stored under key unless the stored one
// was read later than fetchedAt
func (r *GormSnapshotRepository) SaveSnapshot(ctx context.Context, key string, data []offline.Record, fetchedAt time.Time) error {
	model, err := models.NewSnapshotModel(key, data, fetchedAt)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "snapshots.updated_at < excluded.updated_at"},
			}},
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", key, err)
	}
	return nil
}

// GetSnapshot returns the dataset stored under key, or nil when none exists
func (r *GormSnapshotRepository) GetSnapshot(ctx context.Context, key string) ([]offline.Record, error) {
	snap, err := r.FindSnapshot(ctx, key)
	if err != nil || snap == nil {
		return nil, err
	}
	return snap.Data, nil
}

// FindSnapshot returns the stored snapshot with its timestamp, or nil
func (r *GormSnapshotRepository) FindSnapshot(ctx context.Context, key string) (*offline.Snapshot, error) {
	var model models.SnapshotModel
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %q: %w", key, err)
	}
	return model.ToDomain()
}

var _ offline.SnapshotStore = (*GormSnapshotRepository)(nil)
