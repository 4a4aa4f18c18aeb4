package vector

import (
	"context"
)

// Chunk 文档的一个已向量化分块，即索引中存储的记录
type Chunk struct {
	ID         string
	TenantID   string
	SubjectID  string
	DocumentID string
	Index      int
	Run        int64
	Start      int
	End        int
	Content    string
	Vector     []float32
}

// Hit 检索结果，Score 为余弦相似度，越大越相近
type Hit struct {
	ID         string
	TenantID   string
	SubjectID  string
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float32
}

// Index 入库与检索共用的向量存储，实现必须并发安全
type Index interface {
	// EnsureCollection 首次使用时创建集合，并发调用共享同一次尝试
	EnsureCollection(ctx context.Context) error
	EnsureEmbeddingIndex(ctx context.Context) error
	Insert(ctx context.Context, chunks []Chunk) error
	// Search 返回最多 topK 个满足 f 的结果，按分数降序；
	// 集合不存在时返回空结果且无错误
	Search(ctx context.Context, vector []float32, f Filter, topK int) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteBySubject(ctx context.Context, subjectID string) error
	DeleteByFilter(ctx context.Context, f Filter) error
	// ResetIndex 删除并重建相似度索引，已存储的分块保留
	ResetIndex(ctx context.Context) error
	Dimension() int
	Close() error
}
