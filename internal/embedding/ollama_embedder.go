package embedding

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

type OllamaOptions struct {
	ServerURL string
	Model     string
	Dimension int
	BatchSize int
}

// OllamaEmbedder runs a local embedding model through langchaingo's ollama client.
type OllamaEmbedder struct {
	emb *embeddings.EmbedderImpl
	dim int
}

func NewOllamaEmbedder(opts OllamaOptions) (*OllamaEmbedder, error) {
	llmOpts := []ollama.Option{ollama.WithModel(opts.Model)}
	if opts.ServerURL != "" {
		llmOpts = append(llmOpts, ollama.WithServerURL(opts.ServerURL))
	}
	llm, err := ollama.New(llmOpts...)
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "embedding.base_url", Err: err}
	}

	var embOpts []embeddings.Option
	if opts.BatchSize > 0 {
		embOpts = append(embOpts, embeddings.WithBatchSize(opts.BatchSize))
	}
	emb, err := embeddings.NewEmbedder(llm, embOpts...)
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "embedding.model", Err: err}
	}
	return &OllamaEmbedder{emb: emb, dim: opts.Dimension}, nil
}

func (o *OllamaEmbedder) Dimension() int { return o.dim }

func (o *OllamaEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	vecs, err := o.emb.EmbedDocuments(ctx, inputs)
	if err != nil {
		return nil, &errs.EmbeddingError{Provider: ProviderOllama, Err: err}
	}
	if err := checkVectors(ProviderOllama, o.dim, len(inputs), vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}
