package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/pkg/logger"
)

// Embedder 原始检索所需的向量化接口
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// ResetResult 返回给管理员的重建结果，失败以描述形式给出而不是返回错误
type ResetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VectorService 提供索引维护能力，供文档、科目级联删除和管理接口使用
type VectorService struct {
	index Index
	embed Embedder
}

func NewVectorService(index Index, embed Embedder) *VectorService {
	return &VectorService{index: index, embed: embed}
}

// DeleteDocument 删除该文档所有批次的分块
func (s *VectorService) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks of document %s: %w", documentID, err)
	}
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":  "chunks_deleted",
		"document_id": documentID,
	}).Info("document chunks deleted")
	return nil
}

func (s *VectorService) DeleteSubject(ctx context.Context, subjectID string) error {
	if err := s.index.DeleteBySubject(ctx, subjectID); err != nil {
		return fmt.Errorf("delete chunks of subject %s: %w", subjectID, err)
	}
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type": "chunks_deleted",
		"subject_id": subjectID,
	}).Info("subject chunks deleted")
	return nil
}

// ResetIndex 重建相似度索引，已存储的分块保留
func (s *VectorService) ResetIndex(ctx context.Context) ResetResult {
	start := time.Now()
	if err := s.index.ResetIndex(ctx); err != nil {
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type": "index_reset",
			"error":      err.Error(),
		}).Error("index reset failed")
		return ResetResult{Success: false, Message: err.Error()}
	}
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type":  "index_reset",
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("index reset")
	return ResetResult{Success: true, Message: "similarity index rebuilt"}
}

// Search 向量化文本并返回租户下最相近的分块，不做范围回退
func (s *VectorService) Search(ctx context.Context, tenantID, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	vecs, err := s.embed.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs))
	}
	return s.index.Search(ctx, vecs[0], Eq(FieldTenantID, tenantID), limit)
}
