package vector

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/middleware"
)

type Handler struct {
	service *VectorService
}

func NewHandler(service *VectorService) *Handler {
	return &Handler{service: service}
}

type SearchSimilarRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// SearchSimilar returns the caller's closest chunks for a free-text query.
func (h *Handler) SearchSimilar(c *gin.Context) {
	ctx := c.Request.Context()

	var req SearchSimilarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hits, err := h.service.Search(ctx, middleware.UserID(c), req.Query, req.Limit)
	if err != nil {
		logger.WithFieldsCtx(ctx, logrus.Fields{"error": err.Error()}).Error("similarity search failed")
		status := http.StatusInternalServerError
		switch {
		case errs.IsEmbedding(err):
			status = http.StatusBadGateway
		case errs.IsIndexUnavailable(err):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "failed to search similar chunks"})
		return
	}

	chunks := make([]gin.H, 0, len(hits))
	for _, hit := range hits {
		chunks = append(chunks, gin.H{
			"id":          hit.ID,
			"document_id": hit.DocumentID,
			"chunk_index": hit.ChunkIndex,
			"content":     hit.Content,
			"score":       hit.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"query":  req.Query,
		"chunks": chunks,
		"count":  len(chunks),
	})
}

func (h *Handler) ResetIndex(c *gin.Context) {
	res := h.service.ResetIndex(c.Request.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, res)
}

func (h *Handler) SetupRoutes(router gin.IRouter, authMiddleware *middleware.AuthMiddleware) {
	vectors := router.Group("/api/v1/vectors")
	vectors.Use(authMiddleware.RequireAuth())

	vectors.POST("/search", h.SearchSimilar)
	vectors.POST("/index/reset", authMiddleware.RequireRole("admin"), h.ResetIndex)
}
