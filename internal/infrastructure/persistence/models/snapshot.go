package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/agency/internal/domain/offline"
)

// SnapshotModel is the last-known dataset for one cache key
type SnapshotModel struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Data      string    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the table name for GORM
func (SnapshotModel) TableName() string {
	return "snapshots"
}

// NewSnapshotModel encodes data read at fetchedAt for storage. The timestamp is
// kept in UTC so stored values order lexically.
func NewSnapshotModel(key string, data []offline.Record, fetchedAt time.Time) (*SnapshotModel, error) {
	if data == nil {
		data = []offline.Record{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot %q: %w", key, err)
	}
	return &SnapshotModel{Key: key, Data: string(raw), UpdatedAt: fetchedAt.UTC()}, nil
}

// ToDomain decodes the stored dataset
func (m *SnapshotModel) ToDomain() (*offline.Snapshot, error) {
	var data []offline.Record
	if err := json.Unmarshal([]byte(m.Data), &data); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %q: %w", m.Key, err)
	}
	return &offline.Snapshot{Key: m.Key, Data: data, UpdatedAt: m.UpdatedAt}, nil
}
