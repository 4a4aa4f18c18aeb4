package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/common/models"
	"github.com/chongs12/learning-rag/internal/ingestion"
)

// Repository is the gorm-backed relational store for documents and subjects.
// It also records ingestion outcomes, guarded by the document's current run.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateDocument(ctx context.Context, doc *models.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to save document metadata: %w", err)
	}
	return nil
}

func (r *Repository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &doc, nil
}

type ListFilter struct {
	OwnerID   string
	SubjectID string
	Status    string
	Page      int
	PageSize  int
}

func (r *Repository) ListDocuments(ctx context.Context, f ListFilter) ([]*models.Document, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Document{}).Where("owner_id = ?", f.OwnerID)
	if f.SubjectID != "" {
		query = query.Where("subject_id = ?", f.SubjectID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	var documents []*models.Document
	if err := query.Omit("content").
		Order("created_at DESC").
		Limit(f.PageSize).
		Offset((f.Page - 1) * f.PageSize).
		Find(&documents).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch documents: %w", err)
	}
	return documents, total, nil
}

// ListDocumentIDs returns the ids of every document the tenant owns under the subject, in any status.
func (r *Repository) ListDocumentIDs(ctx context.Context, ownerID, subjectID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("owner_id = ? AND subject_id = ?", ownerID, subjectID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	return ids, nil
}

// BeginRun moves the document to PROCESSING under a new run number and returns it.
// Earlier runs still in flight lose the right to write their outcome.
func (r *Repository) BeginRun(ctx context.Context, id string) (int64, error) {
	var run int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":        models.DocumentStatusProcessing,
			"ingestion_run": gorm.Expr("ingestion_run + 1"),
			"chunk_count":   0,
			"processed_at":  nil,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrDocumentNotFound
		}
		return tx.Model(&models.Document{}).Where("id = ?", id).Pluck("ingestion_run", &run).Error
	})
	if err != nil {
		if errors.Is(err, errs.ErrDocumentNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to begin ingestion run: %w", err)
	}
	return run, nil
}

func (r *Repository) MarkCompleted(ctx context.Context, id string, run int64, content string, chunkCount int) error {
	now := time.Now()
	return r.finishRun(ctx, id, run, map[string]interface{}{
		"status":       models.DocumentStatusCompleted,
		"content":      content,
		"chunk_count":  chunkCount,
		"processed_at": &now,
	})
}

func (r *Repository) MarkFailed(ctx context.Context, id string, run int64, reason string) error {
	now := time.Now()
	return r.finishRun(ctx, id, run, map[string]interface{}{
		"status":       models.DocumentStatusError,
		"content":      reason,
		"chunk_count":  0,
		"processed_at": &now,
	})
}

func (r *Repository) finishRun(ctx context.Context, id string, run int64, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND ingestion_run = ? AND status = ?", id, run, models.DocumentStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update document status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ingestion.ErrStaleRun
	}
	return nil
}

func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Document{}).Error; err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (r *Repository) CreateSubject(ctx context.Context, subject *models.Subject) error {
	if err := r.db.WithContext(ctx).Create(subject).Error; err != nil {
		return fmt.Errorf("failed to save subject: %w", err)
	}
	return nil
}

func (r *Repository) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	var subject models.Subject
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&subject).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &subject, nil
}

func (r *Repository) ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error) {
	var subjects []*models.Subject
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("name ASC").Find(&subjects).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subjects: %w", err)
	}
	return subjects, nil
}

// DeleteSubject removes the subject and its documents in one transaction and
// returns the removed documents so callers can clean up files.
func (r *Repository) DeleteSubject(ctx context.Context, id string) ([]*models.Document, error) {
	var docs []*models.Document
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "file_path").Where("subject_id = ?", id).Find(&docs).Error; err != nil {
			return err
		}
		if err := tx.Where("subject_id = ?", id).Delete(&models.Document{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Subject{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete subject: %w", err)
	}
	return docs, nil
}
