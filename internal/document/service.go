package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/common/models"
	"github.com/chongs12/learning-rag/internal/ingestion"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
	"github.com/chongs12/learning-rag/pkg/utils"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds the maximum allowed size")
	ErrFileTypeDenied  = errors.New("file type is not allowed")
	ErrInvalidArgument = errors.New("invalid argument")
)

type Store interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, f ListFilter) ([]*models.Document, int64, error)
	BeginRun(ctx context.Context, id string) (int64, error)
	MarkFailed(ctx context.Context, id string, run int64, reason string) error
	DeleteDocument(ctx context.Context, id string) error
	CreateSubject(ctx context.Context, subject *models.Subject) error
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
	ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error)
	DeleteSubject(ctx context.Context, id string) ([]*models.Document, error)
}

// IndexCleaner removes chunks from the vector index when their owners go away.
type IndexCleaner interface {
	DeleteDocument(ctx context.Context, documentID string) error
	DeleteSubject(ctx context.Context, subjectID string) error
}

type DocumentService struct {
	store        Store
	index        IndexCleaner
	dispatcher   ingestion.Dispatcher
	uploadPath   string
	maxFileSize  int64
	allowedTypes []string
	bm           *metrics.BusinessMetrics
}

type UploadRequest struct {
	File      io.Reader
	FileName  string
	Size      int64
	MimeType  string
	Title     string
	SubjectID string
	OwnerID   string
}

type DocumentListResponse struct {
	Documents []*models.Document `json:"documents"`
	Total     int64              `json:"total"`
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
}

func NewDocumentService(store Store, index IndexCleaner, dispatcher ingestion.Dispatcher, uploadPath string, maxFileSize int64, allowedTypes []string) (*DocumentService, error) {
	if err := os.MkdirAll(uploadPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DocumentService{
		store:        store,
		index:        index,
		dispatcher:   dispatcher,
		uploadPath:   uploadPath,
		maxFileSize:  maxFileSize,
		allowedTypes: allowedTypes,
		bm:           metrics.Business(),
	}, nil
}

// UploadDocument stores the file, records the document as PROCESSING and queues
// its first ingestion run. When the queue rejects the run the document is
// returned already marked ERROR together with the error.
func (s *DocumentService) UploadDocument(ctx context.Context, req *UploadRequest) (*models.Document, error) {
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type": "document_upload",
		"filename":   req.FileName,
		"size":       req.Size,
		"subject_id": req.SubjectID,
	}).Info("Uploading document")

	if req.Size > s.maxFileSize {
		s.bm.UploadTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, s.maxFileSize)
	}
	ext := utils.FileExtension(req.FileName)
	if !slices.Contains(s.allowedTypes, ext) {
		s.bm.UploadTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %q, allowed types: %v", ErrFileTypeDenied, ext, s.allowedTypes)
	}

	var subjectID *uuid.UUID
	if req.SubjectID != "" {
		subject, err := s.ownedSubject(ctx, req.OwnerID, req.SubjectID)
		if err != nil {
			s.bm.UploadTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		subjectID = &subject.ID
	}

	docID := uuid.New()
	filePath := filepath.Join(s.uploadPath, docID.String()+ext)
	written, err := s.saveFile(filePath, req.File)
	if err != nil {
		s.bm.UploadTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = req.FileName
	}
	doc := &models.Document{
		ID:           docID,
		OwnerID:      req.OwnerID,
		SubjectID:    subjectID,
		Title:        title,
		FileName:     utils.SanitizeFilename(req.FileName),
		FilePath:     filePath,
		FileSize:     written,
		FileType:     ext,
		MimeType:     req.MimeType,
		Status:       models.DocumentStatusProcessing,
		IngestionRun: 1,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		os.Remove(filePath)
		s.bm.UploadTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.dispatch(ctx, doc); err != nil {
		s.bm.UploadTotal.WithLabelValues("error").Inc()
		return doc, err
	}

	s.bm.UploadTotal.WithLabelValues("accepted").Inc()
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":  "document_accepted",
		"document_id": doc.ID.String(),
		"status":      doc.Status,
	}).Info("Document uploaded, ingestion queued")
	return doc, nil
}

func (s *DocumentService) saveFile(path string, src io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to save file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(src, s.maxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to save file: %w", err)
	}
	if n > s.maxFileSize {
		os.Remove(path)
		return 0, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, s.maxFileSize)
	}
	return n, nil
}

// dispatch queues the document's current run. A rejected run is recorded as ERROR.
func (s *DocumentService) dispatch(ctx context.Context, doc *models.Document) error {
	job := ingestion.Job{
		DocumentID: doc.ID.String(),
		TenantID:   doc.OwnerID,
		SubjectID:  doc.SubjectKey(),
		FilePath:   doc.FilePath,
		Run:        doc.IngestionRun,
	}
	err := s.dispatcher.Submit(ctx, job)
	if err == nil {
		return nil
	}

	reason := fmt.Sprintf("failed to queue ingestion: %v", err)
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":  "dispatch_failed",
		"document_id": job.DocumentID,
		"run":         job.Run,
	}).WithError(err).Error("Failed to queue ingestion")
	if merr := s.store.MarkFailed(ctx, job.DocumentID, job.Run, reason); merr != nil {
		logger.WithFieldsCtx(ctx, logrus.Fields{"document_id": job.DocumentID}).WithError(merr).Error("Failed to record dispatch failure")
	}
	doc.Status = models.DocumentStatusError
	doc.Content = reason
	return fmt.Errorf("queue ingestion: %w", err)
}

func (s *DocumentService) GetDocument(ctx context.Context, ownerID, documentID string) (*models.Document, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, errs.ErrDocumentNotFound
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, errs.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, ownerID, subjectID, status string, page, pageSize int) (*DocumentListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	if status != "" && !models.DocumentStatus(status).IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	docs, total, err := s.store.ListDocuments(ctx, ListFilter{
		OwnerID:   ownerID,
		SubjectID: subjectID,
		Status:    status,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return nil, err
	}
	return &DocumentListResponse{Documents: docs, Total: total, Page: page, PageSize: pageSize}, nil
}

// ReprocessDocument starts a new ingestion run. The run replaces the chunks of every earlier run.
func (s *DocumentService) ReprocessDocument(ctx context.Context, ownerID, documentID string) (*models.Document, error) {
	doc, err := s.GetDocument(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.BeginRun(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc.IngestionRun = run
	doc.Status = models.DocumentStatusProcessing
	doc.Content = ""
	doc.ChunkCount = 0

	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":  "document_reprocess",
		"document_id": documentID,
		"run":         run,
	}).Info("Reprocessing document")

	if err := s.dispatch(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// DeleteDocument removes the document's chunks first so that a failed cleanup
// leaves the row in place for a retry.
func (s *DocumentService) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.GetDocument(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.removeFile(ctx, doc.FilePath)

	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":  "document_deleted",
		"document_id": documentID,
	}).Info("Document deleted successfully")
	return nil
}

func (s *DocumentService) CreateSubject(ctx context.Context, ownerID, name, description string) (*models.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: subject name is required", ErrInvalidArgument)
	}
	subject := &models.Subject{OwnerID: ownerID, Name: name, Description: description}
	if err := s.store.CreateSubject(ctx, subject); err != nil {
		return nil, err
	}
	return subject, nil
}

func (s *DocumentService) ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error) {
	return s.store.ListSubjects(ctx, ownerID)
}

// DeleteSubject cascades to the subject's chunks, documents and files.
func (s *DocumentService) DeleteSubject(ctx context.Context, ownerID, subjectID string) error {
	if _, err := s.ownedSubject(ctx, ownerID, subjectID); err != nil {
		return err
	}
	if err := s.index.DeleteSubject(ctx, subjectID); err != nil {
		return err
	}
	docs, err := s.store.DeleteSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		// legacy chunks may carry no subject tag
		if err := s.index.DeleteDocument(ctx, doc.ID.String()); err != nil {
			logger.WithFieldsCtx(ctx, logrus.Fields{"document_id": doc.ID.String()}).WithError(err).Warn("Failed to remove document chunks")
		}
		s.removeFile(ctx, doc.FilePath)
	}

	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":     "subject_deleted",
		"subject_id":     subjectID,
		"document_count": len(docs),
	}).Info("Subject deleted successfully")
	return nil
}

func (s *DocumentService) ownedSubject(ctx context.Context, ownerID, subjectID string) (*models.Subject, error) {
	if _, err := uuid.Parse(subjectID); err != nil {
		return nil, errs.ErrSubjectNotFound
	}
	subject, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if subject.OwnerID != ownerID {
		return nil, errs.ErrSubjectNotFound
	}
	return subject, nil
}

func (s *DocumentService) removeFile(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithFieldsCtx(ctx, logrus.Fields{"file_path": path}).WithError(err).Warn("Failed to remove file from disk")
	}
}
