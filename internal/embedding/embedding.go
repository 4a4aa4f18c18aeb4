// Package embedding turns text into fixed-dimension vectors through a configured provider.
package embedding

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/pkg/config"
	"github.com/chongs12/learning-rag/pkg/metrics"
)

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	probeText = "dimension probe"
)

// Embedder returns one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimension() int
}

// New builds the configured provider wrapped with metrics, rate limiting and, when
// rdb is non-nil, a redis-backed cache.
func New(ctx context.Context, cfg *config.Config, rdb *redis.Client) (Embedder, error) {
	dim := cfg.Milvus.VectorDim
	ec := cfg.Embedding

	var (
		base  Embedder
		err   error
		model string
	)
	switch ec.Provider {
	case ProviderArk:
		model = firstNonEmpty(ec.Model, cfg.Ark.Model)
		base, err = NewArkEmbedder(ctx, ArkOptions{
			APIKey:    firstNonEmpty(ec.APIKey, cfg.Ark.APIKey),
			Model:     model,
			BaseURL:   firstNonEmpty(ec.BaseURL, cfg.Ark.BaseURL),
			Region:    cfg.Ark.Region,
			Dimension: dim,
		})
	case ProviderOpenAI:
		model = ec.Model
		base = NewOpenAIEmbedder(OpenAIOptions{
			APIKey:    ec.APIKey,
			BaseURL:   ec.BaseURL,
			Model:     model,
			Dimension: dim,
		})
	case ProviderOllama:
		model = ec.Model
		base, err = NewOllamaEmbedder(OllamaOptions{
			ServerURL: ec.BaseURL,
			Model:     model,
			Dimension: dim,
			BatchSize: ec.BatchSize,
		})
	default:
		return nil, &errs.ConfigurationError{Field: "embedding.provider", Err: fmt.Errorf("unknown provider %q", ec.Provider)}
	}
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if ec.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(ec.RPS), 1)
	}
	var e Embedder = NewInstrumented(base, ec.Provider, metrics.Business())
	e = NewLimited(e, limiter, ec.BatchSize)
	if rdb != nil {
		e = NewCached(e, NewRedisCache(rdb), ec.Provider+":"+model, ec.CacheTTL)
	}
	return e, nil
}

// Probe embeds a fixed string once and fails when the provider's dimension differs
// from the configured one.
func Probe(ctx context.Context, e Embedder) error {
	vecs, err := e.Embed(ctx, []string{probeText})
	if err != nil {
		return fmt.Errorf("embedding probe: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedding probe: got %d vectors for 1 input", len(vecs))
	}
	if len(vecs[0]) != e.Dimension() {
		return errs.DimensionMismatch(e.Dimension(), len(vecs[0]))
	}
	return nil
}

// checkVectors enforces one vector per input and, when dim > 0, the configured dimension.
func checkVectors(provider string, dim, inputs int, vecs [][]float32) error {
	if len(vecs) != inputs {
		return &errs.EmbeddingError{Provider: provider, Err: fmt.Errorf("got %d vectors for %d inputs", len(vecs), inputs)}
	}
	if dim <= 0 {
		return nil
	}
	for _, v := range vecs {
		if len(v) != dim {
			return errs.DimensionMismatch(dim, len(v))
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
