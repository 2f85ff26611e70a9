package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Company is the tenant. AssistantID and VectorStoreID reference external
// provider resources and stay NULL until the first setup or ingestion.
type Company struct {
	ID   uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name string    `gorm:"column:name;not null" json:"name"`

	AssistantID   *string `gorm:"column:assistant_id" json:"assistant_id,omitempty"`
	VectorStoreID *string `gorm:"column:vector_store_id" json:"vector_store_id,omitempty"`

	// StorageKeyPrefix is prepended to every object key the company writes.
	StorageKeyPrefix string `gorm:"column:storage_key_prefix" json:"storage_key_prefix"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Company) TableName() string { return "company" }
