package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/google/uuid"
)

// QueuedMutationModel is one pending write. Seq gives the FIFO order.
type QueuedMutationModel struct {
	Seq        int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	MutationID string    `gorm:"column:id;uniqueIndex;not null"`
	UserID     string    `gorm:"column:user_id;not null;index"`
	Action     string    `gorm:"column:action;not null"`
	Payload    string    `gorm:"column:payload;not null"`
	TempID     string    `gorm:"column:temp_id;not null"`
	OriginalID string    `gorm:"column:original_id;not null;default:''"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName returns the table name for GORM
func (QueuedMutationModel) TableName() string {
	return "queued_mutations"
}

// FromDomain populates the model from a domain mutation
func (m *QueuedMutationModel) FromDomain(q *offline.QueuedMutation) error {
	raw, err := json.Marshal(q.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode mutation payload: %w", err)
	}
	m.MutationID = q.ID.String()
	m.UserID = q.UserID
	m.Action = string(q.Action)
	m.Payload = string(raw)
	m.TempID = q.TempID
	m.OriginalID = q.OriginalID
	m.CreatedAt = q.Timestamp
	return nil
}

// ToDomain converts the model to a domain mutation
func (m *QueuedMutationModel) ToDomain() (*offline.QueuedMutation, error) {
	id, err := uuid.Parse(m.MutationID)
	if err != nil {
		return nil, fmt.Errorf("invalid mutation id %q: %w", m.MutationID, err)
	}
	var payload offline.Record
	if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of mutation %s: %w", m.MutationID, err)
	}
	return &offline.QueuedMutation{
		ID:         id,
		UserID:     m.UserID,
		Action:     offline.Action(m.Action),
		Payload:    payload,
		TempID:     m.TempID,
		OriginalID: m.OriginalID,
		Timestamp:  m.CreatedAt,
	}, nil
}
