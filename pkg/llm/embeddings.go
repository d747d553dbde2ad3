package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Embedder produces query and document embeddings through the dedicated
// embeddings slot. Chat providers never serve embeddings; everything
// that writes vectors into the graph goes through this one client so
// the dimension stays uniform.
type Embedder struct {
	client oai.Client
	model  string
	dims   int
}

// NewEmbedder builds the embeddings client from configuration.
func NewEmbedder(cfg config.EmbeddingsConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Embedder{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}, nil
}

// Dimensions is the vector width this embedder produces.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns the embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, classifyProviderError("embeddings.embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, protocol.Errorf(protocol.KindProviderUnavail, "embeddings.embed", "empty response")
	}
	return e.checkDims(resp.Data[0].Embedding)
}

// EmbedBatch returns embeddings for texts in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classifyProviderError("embeddings.embed_batch", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, protocol.Errorf(protocol.KindProviderUnavail, "embeddings.embed_batch",
			"expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if int(d.Index) >= len(texts) {
			return nil, protocol.Errorf(protocol.KindProviderUnavail, "embeddings.embed_batch",
				"unexpected index %d", d.Index)
		}
		vec, err := e.checkDims(d.Embedding)
		if err != nil {
			return nil, err
		}
		out[d.Index] = vec
	}
	return out, nil
}

// checkDims rejects vectors whose width disagrees with the configured
// dimension before they can reach a graph index.
func (e *Embedder) checkDims(in []float64) ([]float32, error) {
	if e.dims > 0 && len(in) != e.dims {
		return nil, protocol.Errorf(protocol.KindDataIntegrity, "embeddings.embed",
			"model returned %d dimensions, expected %d", len(in), e.dims)
	}
	return float64sTo32(in), nil
}

func float64sTo32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
