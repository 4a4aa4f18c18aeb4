package rag_query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/vector"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
	"github.com/chongs12/learning-rag/pkg/tracing"
)

const (
	ScopeTenant    = "tenant"
	ScopeDocuments = "documents"
	ScopeSubject   = "subject"

	outcomeFound    = "found"
	outcomeNotFound = "not_found"
	outcomeDegraded = "degraded"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

var ErrEmptyQuestion = errors.New("question is empty")

// DocumentLookup 查询租户在某个科目下的文档
type DocumentLookup interface {
	ListDocumentIDs(ctx context.Context, ownerID, subjectID string) ([]string, error)
}

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, vec []float32, f vector.Filter, topK int) ([]vector.Hit, error)
}

type Passage struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
}

// Result 查询结果，包含排序后的片段；没有可引用内容时 Found 为 false，
// 索引不可用（Degraded）时同样如此
type Result struct {
	Passages     []Passage `json:"passages"`
	Found        bool      `json:"found"`
	FallbackUsed bool      `json:"fallback_used"`
	Degraded     bool      `json:"degraded,omitempty"`
	Scope        string    `json:"scope"`
}

// Err 在没有可引用内容时返回 ErrNoContext
func (r *Result) Err() error {
	if r == nil || !r.Found {
		return errs.ErrNoContext
	}
	return nil
}

type QueryService struct {
	docs    DocumentLookup
	embed   Embedder
	index   Searcher
	topK    int
	timeout time.Duration
	bm      *metrics.BusinessMetrics
}

func NewQueryService(docs DocumentLookup, embed Embedder, index Searcher, topK int, timeout time.Duration) *QueryService {
	if topK <= 0 {
		topK = 3
	}
	return &QueryService{
		docs:    docs,
		embed:   embed,
		index:   index,
		topK:    topK,
		timeout: timeout,
		bm:      metrics.Business(),
	}
}

type scope struct {
	name     string
	primary  vector.Filter
	fallback vector.Filter
}

// resolveScope 选择主过滤条件；仅在按文档检索时附带科目过滤作为唯一一次回退
func (s *QueryService) resolveScope(ctx context.Context, tenantID, subjectID string) (scope, error) {
	tenant := vector.Eq(vector.FieldTenantID, tenantID)
	if subjectID == "" {
		return scope{name: ScopeTenant, primary: tenant}, nil
	}
	bySubject := vector.And(tenant, vector.Eq(vector.FieldSubjectID, subjectID))
	ids, err := s.docs.ListDocumentIDs(ctx, tenantID, subjectID)
	if err != nil {
		return scope{}, fmt.Errorf("resolve subject documents: %w", err)
	}
	if len(ids) == 0 {
		return scope{name: ScopeSubject, primary: bySubject}, nil
	}
	return scope{
		name:     ScopeDocuments,
		primary:  vector.And(tenant, vector.In(vector.FieldDocumentID, ids...)),
		fallback: bySubject,
	}, nil
}

// Query 在租户范围内（可限定科目）返回与问题最相似的片段。
// 向量化失败与超时返回错误，索引不可用时降级为空结果
func (s *QueryService) Query(ctx context.Context, tenantID, question, subjectID string) (*Result, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := tracing.Start(ctx, "rag.query",
		attribute.String("tenant.id", tenantID),
		attribute.String("subject.id", subjectID),
	)
	defer span.End()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, outcome, err := s.query(ctx, tenantID, question, subjectID)
	s.bm.QueryTotal.WithLabelValues(outcome).Inc()
	s.bm.QueryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	fields := logrus.Fields{
		"event_type":  "rag_query",
		"tenant_id":   tenantID,
		"subject_id":  subjectID,
		"outcome":     outcome,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		span.RecordError(err)
		logger.WithFieldsCtx(ctx, fields).WithError(err).Error("query failed")
		return nil, err
	}
	fields["scope"] = res.Scope
	fields["fallback_used"] = res.FallbackUsed
	fields["passages"] = len(res.Passages)
	span.SetAttributes(attribute.String("rag.scope", res.Scope), attribute.Int("rag.passages", len(res.Passages)))
	logger.WithFieldsCtx(ctx, fields).Info("query answered")
	return res, nil
}

func (s *QueryService) query(ctx context.Context, tenantID, question, subjectID string) (*Result, string, error) {
	sc, err := s.resolveScope(ctx, tenantID, subjectID)
	if err != nil {
		return failed(ctx, err)
	}

	vecs, err := s.embed.Embed(ctx, []string{question})
	if err != nil {
		return failed(ctx, err)
	}
	if len(vecs) != 1 {
		return nil, outcomeError, fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs))
	}

	res := &Result{Scope: sc.name, Passages: []Passage{}}
	hits, err := s.index.Search(ctx, vecs[0], sc.primary, s.topK)
	if err == nil && len(hits) == 0 && !sc.fallback.IsZero() {
		s.bm.QueryFallback.Inc()
		res.FallbackUsed = true
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type": "rag_query_fallback",
			"tenant_id":  tenantID,
			"subject_id": subjectID,
		}).Info("no hits for subject documents, retrying with subject filter")
		hits, err = s.index.Search(ctx, vecs[0], sc.fallback, s.topK)
	}
	if err != nil {
		if errs.IsIndexUnavailable(err) && ctx.Err() == nil {
			logger.WithFieldsCtx(ctx, logrus.Fields{
				"event_type": "rag_query_degraded",
				"tenant_id":  tenantID,
			}).WithError(err).Warn("vector index unavailable, answering without context")
			res.Degraded = true
			return res, outcomeDegraded, nil
		}
		return failed(ctx, err)
	}

	for _, h := range hits {
		res.Passages = append(res.Passages, Passage{
			Text:       h.Content,
			Score:      h.Score,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
		})
	}
	res.Found = len(res.Passages) > 0
	if !res.Found {
		return res, outcomeNotFound, nil
	}
	return res, outcomeFound, nil
}

// failed 把超时转换为 ErrQueryTimeout 并标记结果类型
func failed(ctx context.Context, err error) (*Result, string, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, outcomeTimeout, fmt.Errorf("%w: %v", errs.ErrQueryTimeout, err)
	}
	return nil, outcomeError, err
}
