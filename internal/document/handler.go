package document

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/ingestion"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/middleware"
)

type Handler struct {
	service *DocumentService
}

func NewHandler(service *DocumentService) *Handler {
	return &Handler{service: service}
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrDocumentNotFound), errors.Is(err, errs.ErrSubjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrFileTypeDenied):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ingestion.ErrQueueFull), errors.Is(err, ingestion.ErrClosed), errs.IsIndexUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	entry := logger.WithFieldsCtx(c.Request.Context(), logrus.Fields{"error": err.Error(), "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	body := gin.H{"error": msg}
	if status < http.StatusInternalServerError {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}

// UploadDocument accepts a multipart file and answers 202 once ingestion is queued.
func (h *Handler) UploadDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	doc, err := h.service.UploadDocument(c.Request.Context(), &UploadRequest{
		File:      file,
		FileName:  header.Filename,
		Size:      header.Size,
		MimeType:  header.Header.Get("Content-Type"),
		Title:     c.PostForm("title"),
		SubjectID: c.PostForm("subject_id"),
		OwnerID:   middleware.UserID(c),
	})
	if err != nil {
		if doc != nil {
			c.JSON(errorStatus(err), gin.H{"error": "document stored but ingestion could not be queued", "document": doc})
			return
		}
		h.fail(c, "failed to upload document", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":  "document accepted for processing",
		"document": doc,
	})
}

func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *Handler) ListDocuments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	docs, err := h.service.ListDocuments(c.Request.Context(), middleware.UserID(c), c.Query("subject_id"), c.Query("status"), page, pageSize)
	if err != nil {
		h.fail(c, "failed to list documents", err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *Handler) DownloadDocument(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to download document", err)
		return
	}
	c.FileAttachment(doc.FilePath, doc.FileName)
}

func (h *Handler) ReprocessDocument(c *gin.Context) {
	doc, err := h.service.ReprocessDocument(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if doc != nil {
			c.JSON(errorStatus(err), gin.H{"error": "ingestion could not be queued", "document": doc})
			return
		}
		h.fail(c, "failed to reprocess document", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":  "document queued for reprocessing",
		"document": doc,
	})
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.service.DeleteDocument(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		h.fail(c, "failed to delete document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted successfully"})
}

type CreateSubjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) CreateSubject(c *gin.Context) {
	var req CreateSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subject, err := h.service.CreateSubject(c.Request.Context(), middleware.UserID(c), req.Name, req.Description)
	if err != nil {
		h.fail(c, "failed to create subject", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subject": subject})
}

func (h *Handler) ListSubjects(c *gin.Context) {
	subjects, err := h.service.ListSubjects(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, "failed to list subjects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects, "total": len(subjects)})
}

func (h *Handler) DeleteSubject(c *gin.Context) {
	if err := h.service.DeleteSubject(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		h.fail(c, "failed to delete subject", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subject deleted successfully"})
}

func (h *Handler) SetupRoutes(router gin.IRouter, authMiddleware *middleware.AuthMiddleware) {
	documents := router.Group("/api/v1/documents")
	documents.Use(authMiddleware.RequireAuth())
	{
		documents.POST("", h.UploadDocument)
		documents.GET("", h.ListDocuments)
		documents.GET("/:id", h.GetDocument)
		documents.GET("/:id/download", h.DownloadDocument)
		documents.POST("/:id/reprocess", h.ReprocessDocument)
		documents.DELETE("/:id", h.DeleteDocument)
	}

	subjects := router.Group("/api/v1/subjects")
	subjects.Use(authMiddleware.RequireAuth())
	{
		subjects.POST("", h.CreateSubject)
		subjects.GET("", h.ListSubjects)
		subjects.DELETE("/:id", h.DeleteSubject)
	}
}
