package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantModel carries the tenant key and timestamps of tenant-scoped tables
type TenantModel struct {
	TenantID  uuid.UUID `gorm:"type:uuid;not null;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
