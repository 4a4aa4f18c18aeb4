package vector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

// ChromemStore 使用内嵌的 chromem-go 数据库保存分块，可仅在内存中或持久化到目录
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	dim        int
}

// NewChromemStore 打开 path 下的数据库，path 为空时使用内存数据库
func NewChromemStore(path, collection string, dim int) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, &errs.IndexUnavailableError{Op: "open", Err: err}
		}
	}

	c, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, &errs.IndexUnavailableError{Op: "create collection", Err: err}
	}
	return &ChromemStore{db: db, collection: c, dim: dim}, nil
}

func (s *ChromemStore) Dimension() int { return s.dim }

func (s *ChromemStore) EnsureCollection(ctx context.Context) error { return nil }

func (s *ChromemStore) EnsureEmbeddingIndex(ctx context.Context) error { return nil }

func (s *ChromemStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Vector) != s.dim {
			return errs.DimensionMismatch(s.dim, len(c.Vector))
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunkMetadata(c),
			Embedding: c.Vector,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return &errs.IndexUnavailableError{Op: "insert", Err: err}
	}
	return nil
}

// Search 对 f 的每个析取项分别查询，再按分数合并结果
func (s *ChromemStore) Search(ctx context.Context, vector []float32, f Filter, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, errs.DimensionMismatch(s.dim, len(vector))
	}
	n := topK
	if count := s.collection.Count(); count == 0 {
		return nil, nil
	} else if n > count {
		n = count
	}

	seen := make(map[string]struct{})
	var hits []Hit
	for _, where := range f.Disjuncts() {
		if len(where) == 0 {
			where = nil
		}
		results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
			QueryEmbedding: vector,
			NResults:       n,
			Where:          where,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &errs.IndexUnavailableError{Op: "search", Err: err}
		}
		for _, r := range results {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			hit, err := hitFromResult(r)
			if err != nil {
				return nil, err
			}
			hits = append(hits, hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func hitFromResult(r chromem.Result) (Hit, error) {
	idx, err := strconv.Atoi(r.Metadata["chunk_index"])
	if err != nil {
		return Hit{}, fmt.Errorf("decode chunk_index of %s: %w", r.ID, err)
	}
	return Hit{
		ID:         r.ID,
		TenantID:   r.Metadata[string(FieldTenantID)],
		SubjectID:  r.Metadata[string(FieldSubjectID)],
		DocumentID: r.Metadata[string(FieldDocumentID)],
		ChunkIndex: idx,
		Content:    r.Content,
		Score:      r.Similarity,
	}, nil
}

func (s *ChromemStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.DeleteByFilter(ctx, Eq(FieldDocumentID, documentID))
}

func (s *ChromemStore) DeleteBySubject(ctx context.Context, subjectID string) error {
	return s.DeleteByFilter(ctx, Eq(FieldSubjectID, subjectID))
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, f Filter) error {
	if f.IsZero() {
		return errors.New("refusing to delete with an empty filter")
	}
	for _, where := range f.Disjuncts() {
		if err := s.collection.Delete(ctx, where, nil); err != nil {
			return &errs.IndexUnavailableError{Op: "delete", Err: err}
		}
	}
	return nil
}

// ResetIndex 无操作：chromem 全量扫描，没有独立索引
func (s *ChromemStore) ResetIndex(ctx context.Context) error { return nil }

func (s *ChromemStore) Count() int { return s.collection.Count() }

func (s *ChromemStore) Close() error { return nil }
