package models

import (
	"time"

	"github.com/erp/agency/internal/domain/offline"
)

// IDMappingModel records a temp id the server replaced
type IDMappingModel struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	TempID    string    `gorm:"column:temp_id;primaryKey"`
	ServerID  string    `gorm:"column:server_id;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName returns the table name for GORM
func (IDMappingModel) TableName() string {
	return "id_mappings"
}

// NewIDMappingModel converts a domain mapping
func NewIDMappingModel(m offline.IDMapping) *IDMappingModel {
	return &IDMappingModel{
		UserID:    m.UserID,
		TempID:    m.TempID,
		ServerID:  m.ServerID,
		CreatedAt: m.CreatedAt,
	}
}

// ToDomain converts the model to a domain mapping
func (m *IDMappingModel) ToDomain() offline.IDMapping {
	return offline.IDMapping{
		UserID:    m.UserID,
		TempID:    m.TempID,
		ServerID:  m.ServerID,
		CreatedAt: m.CreatedAt,
	}
}
