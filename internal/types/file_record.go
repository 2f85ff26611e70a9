package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusFailed     FileStatus = "failed"
	FileStatusSkipped    FileStatus = "skipped"
)

// CanTransition reports whether moving from s to next is a legal status
// change. Transitions are monotonic along pending -> processing ->
// {processed|failed}; failed may be reset to pending for a retry.
func (s FileStatus) CanTransition(next FileStatus) bool {
	switch s {
	case FileStatusPending:
		return next == FileStatusProcessing || next == FileStatusSkipped
	case FileStatusProcessing:
		return next == FileStatusProcessed || next == FileStatusFailed || next == FileStatusPending
	case FileStatusFailed:
		return next == FileStatusPending
	default:
		return false
	}
}

func (s FileStatus) Terminal() bool {
	return s == FileStatusProcessed || s == FileStatusFailed || s == FileStatusSkipped
}

// FileRecord is the persisted metadata row for one uploaded file. The record
// belongs to exactly one company, reachable directly or through a project or
// folder; the ingestion worker mutates only status, attempts and the external
// vector store reference.
type FileRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OriginalName string    `gorm:"column:original_name;not null" json:"original_name"`
	MimeType     string    `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64     `gorm:"column:size_bytes" json:"size_bytes"`
	StorageKey   string    `gorm:"column:storage_key;not null" json:"storage_key"`
	FileURL      string    `gorm:"column:file_url" json:"file_url"`

	CompanyID *uuid.UUID `gorm:"type:uuid;index" json:"company_id,omitempty"`
	Company   *Company   `gorm:"constraint:OnDelete:CASCADE;foreignKey:CompanyID;references:ID" json:"company,omitempty"`
	ProjectID *uuid.UUID `gorm:"type:uuid;index" json:"project_id,omitempty"`
	Project   *Project   `gorm:"constraint:OnDelete:SET NULL;foreignKey:ProjectID;references:ID" json:"project,omitempty"`
	FolderID  *uuid.UUID `gorm:"type:uuid;index" json:"folder_id,omitempty"`
	Folder    *Folder    `gorm:"constraint:OnDelete:SET NULL;foreignKey:FolderID;references:ID" json:"folder,omitempty"`

	Status            FileStatus     `gorm:"column:status;not null;default:'pending';index" json:"status"`
	VectorStoreFileID *string        `gorm:"column:vector_store_file_id" json:"vector_store_file_id,omitempty"`
	ProcessedAt       *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	Attempts          int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError         string         `gorm:"column:last_error" json:"last_error,omitempty"`
	Metadata          datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (FileRecord) TableName() string { return "file_record" }
