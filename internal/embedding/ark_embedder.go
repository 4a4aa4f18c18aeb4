package embedding

import (
	"context"

	arkext "github.com/cloudwego/eino-ext/components/embedding/ark"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

type ArkOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Region    string
	Dimension int
}

// ArkEmbedder 调用火山方舟 Ark 向量化接口
type ArkEmbedder struct {
	emb *arkext.Embedder
	dim int
}

func NewArkEmbedder(ctx context.Context, opts ArkOptions) (*ArkEmbedder, error) {
	cfg := &arkext.EmbeddingConfig{
		APIKey: opts.APIKey,
		Model:  opts.Model,
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Region != "" {
		cfg.Region = opts.Region
	}
	emb, err := arkext.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "ark", Err: err}
	}
	return &ArkEmbedder{emb: emb, dim: opts.Dimension}, nil
}

func (a *ArkEmbedder) Dimension() int { return a.dim }

func (a *ArkEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	raw, err := a.emb.EmbedStrings(ctx, inputs)
	if err != nil {
		return nil, &errs.EmbeddingError{Provider: ProviderArk, Err: err}
	}
	vecs := make([][]float32, len(raw))
	for i, v := range raw {
		vecs[i] = toFloat32(v)
	}
	if err := checkVectors(ProviderArk, a.dim, len(inputs), vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
