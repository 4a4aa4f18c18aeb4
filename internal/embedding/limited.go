package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

// Limited splits requests into provider-sized batches and paces them with a token bucket.
// A nil limiter disables pacing; batchSize <= 0 sends everything in one call.
type Limited struct {
	inner     Embedder
	limiter   *rate.Limiter
	batchSize int
}

func NewLimited(inner Embedder, limiter *rate.Limiter, batchSize int) *Limited {
	return &Limited{inner: inner, limiter: limiter, batchSize: batchSize}
}

func (l *Limited) Dimension() int { return l.inner.Dimension() }

func (l *Limited) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	size := l.batchSize
	if size <= 0 {
		size = len(inputs)
	}

	out := make([][]float32, 0, len(inputs))
	for offset := 0; offset < len(inputs); offset += size {
		end := offset + size
		if end > len(inputs) {
			end = len(inputs)
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				// Wait fails early when the next token would arrive after the deadline.
				if _, ok := ctx.Deadline(); ok && !errors.Is(err, context.Canceled) {
					err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
				}
				return nil, &errs.EmbeddingError{Provider: "limiter", Err: err}
			}
		}
		vecs, err := l.inner.Embed(ctx, inputs[offset:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
