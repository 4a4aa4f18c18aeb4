package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

// MemoryStore 进程内暴力检索的索引，用于开发与测试
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	chunks []Chunk
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim}
}

func (s *MemoryStore) Dimension() int { return s.dim }

func (s *MemoryStore) EnsureCollection(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureEmbeddingIndex(ctx context.Context) error {
	return s.EnsureCollection(ctx)
}

func (s *MemoryStore) Insert(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		if len(c.Vector) != s.dim {
			return errs.DimensionMismatch(s.dim, len(c.Vector))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		c.Vector = append([]float32(nil), c.Vector...)
		s.chunks = append(s.chunks, c)
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, f Filter, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, errs.DimensionMismatch(s.dim, len(vector))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	hits := make([]Hit, 0, topK)
	for _, c := range s.chunks {
		if !f.Match(c.field) {
			continue
		}
		hits = append(hits, Hit{
			ID:         c.ID,
			TenantID:   c.TenantID,
			SubjectID:  c.SubjectID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Score:      CosineSimilarity(vector, c.Vector),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.DeleteByFilter(ctx, Eq(FieldDocumentID, documentID))
}

func (s *MemoryStore) DeleteBySubject(ctx context.Context, subjectID string) error {
	return s.DeleteByFilter(ctx, Eq(FieldSubjectID, subjectID))
}

func (s *MemoryStore) DeleteByFilter(ctx context.Context, f Filter) error {
	if f.IsZero() {
		return errors.New("refusing to delete with an empty filter")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if !f.Match(c.field) {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(s.chunks); i++ {
		s.chunks[i] = Chunk{}
	}
	s.chunks = kept
	return nil
}

func (s *MemoryStore) ResetIndex(ctx context.Context) error {
	return nil
}

// Len 返回已存储的分块数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Chunks 按插入顺序返回满足 f 的分块副本
func (s *MemoryStore) Chunks(f Filter) []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Chunk
	for _, c := range s.chunks {
		if f.Match(c.field) {
			out = append(out, c)
		}
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) String() string {
	return fmt.Sprintf("memory(dim=%d)", s.dim)
}
