package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	DocumentStatusReady      DocumentStatus = "READY"
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	DocumentStatusCompleted  DocumentStatus = "COMPLETED"
	DocumentStatusError      DocumentStatus = "ERROR"
)

func (s DocumentStatus) String() string {
	return string(s)
}

func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusReady, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusError:
		return true
	}
	return false
}

// Document is a learning material uploaded by a user. OwnerID is the tenant key.
// Content holds the extracted text once COMPLETED, or the failure reason once ERROR.
type Document struct {
	ID           uuid.UUID      `gorm:"type:char(36);primary_key" json:"id"`
	OwnerID      string         `gorm:"type:varchar(64);not null;index:idx_owner_subject" json:"owner_id"`
	SubjectID    *uuid.UUID     `gorm:"type:char(36);index:idx_owner_subject" json:"subject_id,omitempty"`
	Title        string         `gorm:"type:varchar(255);not null" json:"title"`
	FileName     string         `gorm:"type:varchar(255);not null" json:"file_name"`
	FilePath     string         `gorm:"type:varchar(500);not null" json:"file_path"`
	FileSize     int64          `gorm:"not null" json:"file_size"`
	FileType     string         `gorm:"type:varchar(50);not null" json:"file_type"`
	MimeType     string         `gorm:"type:varchar(100)" json:"mime_type"`
	Content      string         `gorm:"type:longtext" json:"content,omitempty"`
	Status       DocumentStatus `gorm:"type:varchar(20);default:'READY';index" json:"status"`
	IngestionRun int64          `gorm:"not null;default:0" json:"ingestion_run"`
	ChunkCount   int            `gorm:"not null;default:0" json:"chunk_count"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *Document) TableName() string {
	return "documents"
}

// SubjectKey returns the subject id as stored in the vector index, "" when unset.
func (d *Document) SubjectKey() string {
	if d.SubjectID == nil {
		return ""
	}
	return d.SubjectID.String()
}

type Subject struct {
	ID          uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	OwnerID     string    `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Subject) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *Subject) TableName() string {
	return "subjects"
}
