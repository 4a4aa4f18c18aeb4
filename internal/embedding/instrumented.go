package embedding

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
)

// Instrumented records provider call counts and latency.
type Instrumented struct {
	inner    Embedder
	provider string
	bm       *metrics.BusinessMetrics
}

func NewInstrumented(inner Embedder, provider string, bm *metrics.BusinessMetrics) *Instrumented {
	return &Instrumented{inner: inner, provider: provider, bm: bm}
}

func (i *Instrumented) Dimension() int { return i.inner.Dimension() }

func (i *Instrumented) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := i.inner.Embed(ctx, inputs)
	dur := time.Since(start)

	status := "success"
	if err != nil {
		status = "fail"
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type":  "embed_failed",
			"provider":    i.provider,
			"batch_size":  len(inputs),
			"duration_ms": dur.Milliseconds(),
			"error":       err.Error(),
		}).Warn("embedding request failed")
	} else {
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type":  "embed",
			"provider":    i.provider,
			"batch_size":  len(inputs),
			"duration_ms": dur.Milliseconds(),
		}).Debug("embedding request completed")
	}
	if i.bm != nil {
		i.bm.EmbedTotal.WithLabelValues(i.provider, status).Inc()
		i.bm.EmbedDuration.WithLabelValues(i.provider, status).Observe(dur.Seconds())
	}
	return vecs, err
}
