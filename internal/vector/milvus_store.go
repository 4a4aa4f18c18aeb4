package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/pkg/logger"
)

const (
	fieldID         = "id"
	fieldChunkIndex = "chunk_index"
	fieldRun        = "run"
	fieldStartPos   = "start_pos"
	fieldEndPos     = "end_pos"
	fieldContent    = "content"

	maxContentBytes = 65535

	ensureTimeout = time.Minute
)

var searchOutputFields = []string{
	fieldID,
	string(FieldTenantID),
	string(FieldSubjectID),
	string(FieldDocumentID),
	fieldChunkIndex,
	fieldContent,
}

type MilvusOptions struct {
	Collection     string
	VectorField    string
	Dimension      int
	IndexM         int
	EfConstruction int
	SearchEf       int
}

// MilvusStore 生产环境使用的 Index。集合及其 HNSW/COSINE 索引在首次使用时创建，
// 所有租户共用一个集合，通过过滤条件隔离
type MilvusStore struct {
	client milvus.Client
	opts   MilvusOptions

	ready atomic.Bool
	group singleflight.Group
}

func NewMilvusStore(cli milvus.Client, opts MilvusOptions) *MilvusStore {
	if opts.VectorField == "" {
		opts.VectorField = "embedding"
	}
	if opts.IndexM <= 0 {
		opts.IndexM = 16
	}
	if opts.EfConstruction <= 0 {
		opts.EfConstruction = 200
	}
	if opts.SearchEf <= 0 {
		opts.SearchEf = 64
	}
	return &MilvusStore{client: cli, opts: opts}
}

// DialMilvus 连接 Milvus，用户名密码可选
func DialMilvus(ctx context.Context, addr, username, password string) (milvus.Client, error) {
	cli, err := milvus.NewClient(ctx, milvus.Config{
		Address:  addr,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, &errs.IndexUnavailableError{Op: "connect", Err: err}
	}
	return cli, nil
}

func (s *MilvusStore) Dimension() int { return s.opts.Dimension }

func (s *MilvusStore) buildSchema() *entity.Schema {
	varchar := func(name string, maxLen int, pk bool) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
			PrimaryKey: pk,
		}
	}
	int64Field := func(name string) *entity.Field {
		return &entity.Field{Name: name, DataType: entity.FieldTypeInt64}
	}
	return &entity.Schema{
		CollectionName: s.opts.Collection,
		Description:    "document chunks for retrieval",
		AutoID:         false,
		Fields: []*entity.Field{
			varchar(fieldID, 64, true),
			varchar(string(FieldTenantID), 64, false),
			varchar(string(FieldSubjectID), 64, false),
			varchar(string(FieldDocumentID), 64, false),
			int64Field(fieldChunkIndex),
			int64Field(fieldRun),
			int64Field(fieldStartPos),
			int64Field(fieldEndPos),
			varchar(fieldContent, maxContentBytes, false),
			{
				Name:       s.opts.VectorField,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.opts.Dimension)},
			},
		},
	}
}

// EnsureCollection 每个进程只创建、建索引并加载一次集合。
// 并发调用共享同一次初始化，初始化不继承任一调用方的取消或超时，
// 调用方在自己的 ctx 结束时提前返回。已存在且维度不同的集合视为配置错误。
func (s *MilvusStore) EnsureCollection(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	ch := s.group.DoChan("collection", func() (interface{}, error) {
		if s.ready.Load() {
			return nil, nil
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ensureTimeout)
		defer cancel()
		if err := s.ensure(sctx); err != nil {
			return nil, err
		}
		s.ready.Store(true)
		return nil, nil
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MilvusStore) ensure(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.opts.Collection)
	if err != nil {
		return &errs.IndexUnavailableError{Op: "has collection", Err: err}
	}
	if !has {
		err := s.client.CreateCollection(ctx, s.buildSchema(), 1, milvus.WithConsistencyLevel(entity.ClStrong))
		if err != nil && !isAlreadyExists(err) {
			return &errs.IndexUnavailableError{Op: "create collection", Err: err}
		}
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type": "collection_created",
			"collection": s.opts.Collection,
			"dim":        s.opts.Dimension,
		}).Info("created vector collection")
	}
	if err := s.checkDimension(ctx); err != nil {
		return err
	}
	if err := s.EnsureEmbeddingIndex(ctx); err != nil {
		return err
	}
	if err := s.client.LoadCollection(ctx, s.opts.Collection, false); err != nil {
		return &errs.IndexUnavailableError{Op: "load collection", Err: err}
	}
	return nil
}

func (s *MilvusStore) checkDimension(ctx context.Context) error {
	coll, err := s.client.DescribeCollection(ctx, s.opts.Collection)
	if err != nil {
		return &errs.IndexUnavailableError{Op: "describe collection", Err: err}
	}
	if coll.Schema == nil {
		return nil
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != s.opts.VectorField {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil {
			return &errs.ConfigurationError{Field: "milvus.vector_dim", Err: fmt.Errorf("decode dim of %s: %w", f.Name, err)}
		}
		if dim != s.opts.Dimension {
			return errs.DimensionMismatch(dim, s.opts.Dimension)
		}
		return nil
	}
	return &errs.ConfigurationError{
		Field: "milvus.vector_field",
		Err:   fmt.Errorf("collection %s has no field %s", s.opts.Collection, s.opts.VectorField),
	}
}

// EnsureEmbeddingIndex 向量字段没有索引时创建 HNSW 索引
func (s *MilvusStore) EnsureEmbeddingIndex(ctx context.Context) error {
	indexes, err := s.client.DescribeIndex(ctx, s.opts.Collection, s.opts.VectorField)
	if err == nil && len(indexes) > 0 {
		return nil
	}
	return s.createIndex(ctx)
}

func (s *MilvusStore) createIndex(ctx context.Context) error {
	idx, err := entity.NewIndexHNSW(entity.COSINE, s.opts.IndexM, s.opts.EfConstruction)
	if err != nil {
		return &errs.ConfigurationError{Field: "milvus.index_m", Err: err}
	}
	if err := s.client.CreateIndex(ctx, s.opts.Collection, s.opts.VectorField, idx, false); err != nil {
		return &errs.IndexUnavailableError{Op: "create index", Err: err}
	}
	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type": "index_created",
		"collection": s.opts.Collection,
		"field":      s.opts.VectorField,
	}).Info("built similarity index")
	return nil
}

func (s *MilvusStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}

	n := len(chunks)
	ids := make([]string, n)
	tenants := make([]string, n)
	subjects := make([]string, n)
	documents := make([]string, n)
	indexes := make([]int64, n)
	runs := make([]int64, n)
	starts := make([]int64, n)
	ends := make([]int64, n)
	contents := make([]string, n)
	vectors := make([][]float32, n)

	for i, c := range chunks {
		if len(c.Vector) != s.opts.Dimension {
			return errs.DimensionMismatch(s.opts.Dimension, len(c.Vector))
		}
		if len(c.Content) > maxContentBytes {
			return fmt.Errorf("chunk %s content is %d bytes, limit %d", c.ID, len(c.Content), maxContentBytes)
		}
		ids[i] = c.ID
		tenants[i] = c.TenantID
		subjects[i] = c.SubjectID
		documents[i] = c.DocumentID
		indexes[i] = int64(c.Index)
		runs[i] = c.Run
		starts[i] = int64(c.Start)
		ends[i] = int64(c.End)
		contents[i] = c.Content
		vectors[i] = c.Vector
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(string(FieldTenantID), tenants),
		entity.NewColumnVarChar(string(FieldSubjectID), subjects),
		entity.NewColumnVarChar(string(FieldDocumentID), documents),
		entity.NewColumnInt64(fieldChunkIndex, indexes),
		entity.NewColumnInt64(fieldRun, runs),
		entity.NewColumnInt64(fieldStartPos, starts),
		entity.NewColumnInt64(fieldEndPos, ends),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnFloatVector(s.opts.VectorField, s.opts.Dimension, vectors),
	}

	if _, err := s.client.Insert(ctx, s.opts.Collection, "", columns...); err != nil {
		return &errs.IndexUnavailableError{Op: "insert", Err: err}
	}
	if err := s.client.Flush(ctx, s.opts.Collection, false); err != nil {
		return &errs.IndexUnavailableError{Op: "flush", Err: err}
	}
	return nil
}

// Search 遇到索引缺失或未加载时自愈一次，仍失败则返回错误
func (s *MilvusStore) Search(ctx context.Context, vector []float32, f Filter, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vector) != s.opts.Dimension {
		return nil, errs.DimensionMismatch(s.opts.Dimension, len(vector))
	}
	if !s.ready.Load() {
		has, err := s.client.HasCollection(ctx, s.opts.Collection)
		if err != nil {
			return nil, s.unavailable(ctx, "has collection", err)
		}
		if !has {
			return nil, nil
		}
		if err := s.EnsureCollection(ctx); err != nil {
			return nil, err
		}
	}

	results, err := s.search(ctx, vector, f, topK)
	if err != nil && isMissingIndex(err) {
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type": "index_self_heal",
			"collection": s.opts.Collection,
			"error":      err.Error(),
		}).Warn("search hit a missing index, rebuilding")
		if herr := s.heal(ctx); herr != nil {
			return nil, herr
		}
		results, err = s.search(ctx, vector, f, topK)
	}
	if err != nil {
		return nil, s.unavailable(ctx, "search", err)
	}

	var hits []Hit
	for _, r := range results {
		decoded, err := decodeResult(r)
		if err != nil {
			return nil, err
		}
		hits = append(hits, decoded...)
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MilvusStore) search(ctx context.Context, vector []float32, f Filter, topK int) ([]milvus.SearchResult, error) {
	sp, err := entity.NewIndexHNSWSearchParam(s.opts.SearchEf)
	if err != nil {
		return nil, err
	}
	return s.client.Search(
		ctx,
		s.opts.Collection,
		nil,
		f.Expr(),
		searchOutputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		s.opts.VectorField,
		entity.COSINE,
		topK,
		sp,
	)
}

func (s *MilvusStore) heal(ctx context.Context) error {
	if err := s.EnsureEmbeddingIndex(ctx); err != nil {
		return err
	}
	if err := s.client.LoadCollection(ctx, s.opts.Collection, false); err != nil {
		return &errs.IndexUnavailableError{Op: "load collection", Err: err}
	}
	return nil
}

func (s *MilvusStore) unavailable(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &errs.IndexUnavailableError{Op: op, Err: err}
}

func decodeResult(r milvus.SearchResult) ([]Hit, error) {
	n := len(r.Scores)
	if n == 0 {
		return nil, nil
	}
	ids, ok := r.IDs.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("decode search result: id column is %T", r.IDs)
	}

	strCols := make(map[string][]string)
	intCols := make(map[string][]int64)
	for _, col := range r.Fields {
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			strCols[c.Name()] = c.Data()
		case *entity.ColumnInt64:
			intCols[c.Name()] = c.Data()
		}
	}
	for _, name := range []string{string(FieldTenantID), string(FieldSubjectID), string(FieldDocumentID), fieldContent} {
		if len(strCols[name]) < n {
			return nil, fmt.Errorf("decode search result: field %s missing or short", name)
		}
	}
	if len(intCols[fieldChunkIndex]) < n || len(ids.Data()) < n {
		return nil, fmt.Errorf("decode search result: field %s missing or short", fieldChunkIndex)
	}

	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{
			ID:         ids.Data()[i],
			TenantID:   strCols[string(FieldTenantID)][i],
			SubjectID:  strCols[string(FieldSubjectID)][i],
			DocumentID: strCols[string(FieldDocumentID)][i],
			ChunkIndex: int(intCols[fieldChunkIndex][i]),
			Content:    strCols[fieldContent][i],
			Score:      r.Scores[i],
		}
	}
	return hits, nil
}

func (s *MilvusStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.DeleteByFilter(ctx, Eq(FieldDocumentID, documentID))
}

func (s *MilvusStore) DeleteBySubject(ctx context.Context, subjectID string) error {
	return s.DeleteByFilter(ctx, Eq(FieldSubjectID, subjectID))
}

// DeleteByFilter 集合尚不存在时不做任何操作
func (s *MilvusStore) DeleteByFilter(ctx context.Context, f Filter) error {
	if f.IsZero() {
		return errors.New("refusing to delete with an empty filter")
	}
	if !s.ready.Load() {
		has, err := s.client.HasCollection(ctx, s.opts.Collection)
		if err != nil {
			return s.unavailable(ctx, "has collection", err)
		}
		if !has {
			return nil
		}
	}
	if err := s.client.Delete(ctx, s.opts.Collection, "", f.Expr()); err != nil {
		return s.unavailable(ctx, "delete", err)
	}
	return nil
}

// ResetIndex 释放集合，删除向量索引后重建并重新加载
func (s *MilvusStore) ResetIndex(ctx context.Context) error {
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.client.ReleaseCollection(ctx, s.opts.Collection); err != nil {
		return &errs.IndexUnavailableError{Op: "release collection", Err: err}
	}
	if err := s.client.DropIndex(ctx, s.opts.Collection, s.opts.VectorField); err != nil && !isMissingIndex(err) {
		return &errs.IndexUnavailableError{Op: "drop index", Err: err}
	}
	if err := s.createIndex(ctx); err != nil {
		return err
	}
	if err := s.client.LoadCollection(ctx, s.opts.Collection, false); err != nil {
		return &errs.IndexUnavailableError{Op: "load collection", Err: err}
	}
	return nil
}

func (s *MilvusStore) Close() error {
	return s.client.Close()
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exist")
}

func isMissingIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index not found") ||
		strings.Contains(msg, "index doesn't exist") ||
		strings.Contains(msg, "index not exist") ||
		strings.Contains(msg, "not loaded")
}
