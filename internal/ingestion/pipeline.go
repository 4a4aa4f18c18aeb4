package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/chongs12/learning-rag/internal/chunker"
	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/embedding"
	"github.com/chongs12/learning-rag/internal/vector"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
	"github.com/chongs12/learning-rag/pkg/tracing"
)

const (
	statusCompleted  = "completed"
	statusError      = "error"
	statusSuperseded = "superseded"

	defaultStatusTimeout = 10 * time.Second
)

// Store persists the outcome of a run. Both writes must only apply while the
// document is still PROCESSING under the given run and return ErrStaleRun otherwise.
type Store interface {
	MarkCompleted(ctx context.Context, documentID string, run int64, content string, chunkCount int) error
	MarkFailed(ctx context.Context, documentID string, run int64, reason string) error
}

type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type Pipeline struct {
	store         Store
	extractor     Extractor
	splitter      *chunker.Splitter
	embedder      embedding.Embedder
	index         vector.Index
	batchSize     int
	concurrency   int
	statusTimeout time.Duration
	bm            *metrics.BusinessMetrics
}

type PipelineOption func(*Pipeline)

// WithEmbedBatching sets how many chunks go into one embedding call and how many
// calls may be in flight for one document.
func WithEmbedBatching(batchSize, concurrency int) PipelineOption {
	return func(p *Pipeline) {
		if batchSize > 0 {
			p.batchSize = batchSize
		}
		if concurrency > 0 {
			p.concurrency = concurrency
		}
	}
}

func WithStatusTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.statusTimeout = d
		}
	}
}

func WithMetrics(bm *metrics.BusinessMetrics) PipelineOption {
	return func(p *Pipeline) {
		if bm != nil {
			p.bm = bm
		}
	}
}

func NewPipeline(store Store, extractor Extractor, splitter *chunker.Splitter, embedder embedding.Embedder, index vector.Index, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:         store,
		extractor:     extractor,
		splitter:      splitter,
		embedder:      embedder,
		index:         index,
		batchSize:     16,
		concurrency:   4,
		statusTimeout: defaultStatusTimeout,
		bm:            metrics.Business(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one ingestion run and writes its terminal status. The returned error
// is the failure that was recorded; ErrStaleRun means a newer run owns the document.
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "ingestion.run",
		attribute.String("document.id", job.DocumentID),
		attribute.String("tenant.id", job.TenantID),
		attribute.Int64("ingestion.run", job.Run),
	)
	defer span.End()

	p.bm.IngestionInflight.Inc()
	defer p.bm.IngestionInflight.Dec()

	fields := jobFields(job)
	logger.WithFieldsCtx(ctx, withEvent(fields, "ingestion_started")).Info("ingestion started")

	text, count, inserted, err := p.process(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordFailure(ctx, job, err.Error(), inserted)
		p.observe(statusError, start)
		logger.WithFieldsCtx(ctx, withEvent(fields, "ingestion_failed")).WithError(err).Error("ingestion failed")
		return err
	}

	sctx, cancel := p.statusContext(ctx)
	defer cancel()
	if err := p.store.MarkCompleted(sctx, job.DocumentID, job.Run, text, count); err != nil {
		if errors.Is(err, ErrStaleRun) {
			p.cleanupRun(sctx, job)
			p.observe(statusSuperseded, start)
			logger.WithFieldsCtx(ctx, withEvent(fields, "ingestion_superseded")).Warn("run superseded before completion, chunks removed")
			return err
		}
		err = fmt.Errorf("persist completion: %w", err)
		span.RecordError(err)
		p.recordFailure(ctx, job, err.Error(), true)
		p.observe(statusError, start)
		logger.WithFieldsCtx(ctx, withEvent(fields, "ingestion_failed")).WithError(err).Error("ingestion failed")
		return err
	}

	p.bm.ChunksIndexed.Add(float64(count))
	p.observe(statusCompleted, start)
	fields["chunk_count"] = count
	fields["duration_ms"] = time.Since(start).Milliseconds()
	logger.WithFieldsCtx(ctx, withEvent(fields, "ingestion_completed")).Info("ingestion completed")
	return nil
}

// Fail marks the run ERROR and removes whatever it may already have indexed.
func (p *Pipeline) Fail(ctx context.Context, job Job, reason string) error {
	sctx, cancel := p.statusContext(ctx)
	defer cancel()
	p.cleanupRun(sctx, job)
	if err := p.store.MarkFailed(sctx, job.DocumentID, job.Run, reason); err != nil && !errors.Is(err, ErrStaleRun) {
		return fmt.Errorf("mark document %s failed: %w", job.DocumentID, err)
	}
	p.observe(statusError, time.Now())
	return nil
}

// process returns the extracted text and chunk count. inserted reports whether
// chunks of this run may be in the index.
func (p *Pipeline) process(ctx context.Context, job Job) (text string, count int, inserted bool, err error) {
	text, err = p.extractor.Extract(ctx, job.FilePath)
	if err != nil {
		return "", 0, false, err
	}
	if strings.TrimSpace(text) == "" {
		return "", 0, false, errs.ErrEmptyDocument
	}

	pieces := p.splitter.Split(text)
	if len(pieces) == 0 {
		return "", 0, false, errs.ErrEmptyDocument
	}

	vecs, err := p.embed(ctx, pieces)
	if err != nil {
		return "", 0, false, err
	}

	chunks := make([]vector.Chunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = vector.Chunk{
			ID:         uuid.NewString(),
			TenantID:   job.TenantID,
			SubjectID:  job.SubjectID,
			DocumentID: job.DocumentID,
			Index:      c.Index,
			Run:        job.Run,
			Start:      c.Start,
			End:        c.End,
			Content:    c.Text,
			Vector:     vecs[i],
		}
	}

	if err := p.index.DeleteByDocument(ctx, job.DocumentID); err != nil {
		return "", 0, false, fmt.Errorf("remove previous chunks: %w", err)
	}
	if err := p.index.Insert(ctx, chunks); err != nil {
		return "", 0, true, fmt.Errorf("insert chunks: %w", err)
	}
	return text, len(chunks), true, nil
}

// embed fans batches out with bounded concurrency. Vectors come back in chunk order.
func (p *Pipeline) embed(ctx context.Context, pieces []chunker.Chunk) ([][]float32, error) {
	ctx, span := tracing.Start(ctx, "ingestion.embed", attribute.Int("chunk.count", len(pieces)))
	defer span.End()

	out := make([][]float32, len(pieces))
	dim := p.index.Dimension()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for offset := 0; offset < len(pieces); offset += p.batchSize {
		end := min(offset+p.batchSize, len(pieces))
		batch := make([]string, 0, end-offset)
		for _, c := range pieces[offset:end] {
			batch = append(batch, c.Text)
		}
		g.Go(func() error {
			vecs, err := p.embedder.Embed(gctx, batch)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(batch))
			}
			for i, v := range vecs {
				if len(v) != dim {
					return errs.DimensionMismatch(dim, len(v))
				}
				out[offset+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, job Job, reason string, inserted bool) {
	sctx, cancel := p.statusContext(ctx)
	defer cancel()
	if inserted {
		p.cleanupRun(sctx, job)
	}
	if err := p.store.MarkFailed(sctx, job.DocumentID, job.Run, reason); err != nil {
		entry := logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "status_write_failed")).WithError(err)
		if errors.Is(err, ErrStaleRun) {
			entry.Warn("failure not recorded, run superseded")
			return
		}
		entry.Error("failed to record ingestion failure")
	}
}

func (p *Pipeline) cleanupRun(ctx context.Context, job Job) {
	f := vector.And(vector.Eq(vector.FieldDocumentID, job.DocumentID), vector.EqInt(vector.FieldRun, job.Run))
	if err := p.index.DeleteByFilter(ctx, f); err != nil {
		logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "cleanup_failed")).WithError(err).Error("failed to remove chunks of failed run")
	}
}

// statusContext survives cancellation of the run so terminal writes still land.
func (p *Pipeline) statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.statusTimeout)
}

func (p *Pipeline) observe(status string, start time.Time) {
	p.bm.IngestionTotal.WithLabelValues(status).Inc()
	p.bm.IngestionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func jobFields(job Job) logrus.Fields {
	return logrus.Fields{
		"document_id": job.DocumentID,
		"tenant_id":   job.TenantID,
		"subject_id":  job.SubjectID,
		"run":         job.Run,
	}
}

func withEvent(fields logrus.Fields, event string) logrus.Fields {
	out := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["event_type"] = event
	return out
}
