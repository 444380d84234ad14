package persistence

import (
	"context"
	"fmt"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMutationQueue is the durable per-user FIFO of pending writes
type GormMutationQueue struct {
	db *gorm.DB
}

// NewGormMutationQueue creates a new mutation queue repository
func NewGormMutationQueue(db *gorm.DB) *GormMutationQueue {
	return &GormMutationQueue{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormMutationQueue) WithTx(tx *gorm.DB) *GormMutationQueue {
	return &GormMutationQueue{db: tx}
}

// AppendMutation persists m at the tail of its user's queue
func (r *GormMutationQueue) AppendMutation(ctx context.Context, m *offline.QueuedMutation) error {
	var model models.QueuedMutationModel
	if err := model.FromDomain(m); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to append mutation: %w", err)
	}
	return nil
}

// ListMutations returns the user's mutations in enqueue order
func (r *GormMutationQueue) ListMutations(ctx context.Context, userID string) ([]*offline.QueuedMutation, error) {
	var rows []models.QueuedMutationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}

	out := make([]*offline.QueuedMutation, 0, len(rows))
	for i := range rows {
		m, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RemoveMutation deletes a mutation by id
func (r *GormMutationQueue) RemoveMutation(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("id = ?", id.String()).
		Delete(&models.QueuedMutationModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove mutation %s: %w", id, err)
	}
	return nil
}

// CountMutations returns how many mutations the user has pending
func (r *GormMutationQueue) CountMutations(ctx context.Context, userID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.QueuedMutationModel{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return int(n), nil
}

// CompleteMutation removes a replayed mutation and records its id mapping in one transaction
func (r *GormMutationQueue) CompleteMutation(ctx context.Context, id uuid.UUID, mapping *offline.IDMapping) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.WithTx(tx).RemoveMutation(ctx, id); err != nil {
			return err
		}
		if mapping == nil {
			return nil
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "temp_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"server_id", "created_at"}),
		}).Create(models.NewIDMappingModel(*mapping)).Error
		if err != nil {
			return fmt.Errorf("failed to record id mapping: %w", err)
		}
		return nil
	})
}

// ListMappings returns every temp id the server replaced for the user
func (r *GormMutationQueue) ListMappings(ctx context.Context, userID string) ([]offline.IDMapping, error) {
	var rows []models.IDMappingModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list id mappings: %w", err)
	}
	out := make([]offline.IDMapping, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// PendingUsers returns the distinct users that still have queued mutations
func (r *GormMutationQueue) PendingUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).
		Model(&models.QueuedMutationModel{}).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending users: %w", err)
	}
	return users, nil
}

var _ offline.MutationQueue = (*GormMutationQueue)(nil)
