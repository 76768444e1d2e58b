// Package openai implements the Embedder interface against the
// OpenAI embeddings API. Used by the Qdrant index in Pro tier.
package openai

import (
	"context"
	"fmt"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// Embedder calls the OpenAI embeddings endpoint.
type Embedder struct {
	client *goopenai.Client
	model  goopenai.EmbeddingModel

	mu   sync.Mutex
	dims int
}

// Config holds embedder settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// New creates an OpenAI embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder: API key is required")
	}
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		client: goopenai.NewClientWithConfig(clientConfig),
		model:  goopenai.EmbeddingModel(model),
	}, nil
}

// Embed returns one vector per input text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float64, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float64(f)
		}
		out[d.Index] = vec
	}
	if len(out) > 0 && len(out[0]) > 0 {
		e.mu.Lock()
		e.dims = len(out[0])
		e.mu.Unlock()
	}
	return out, nil
}

// Dimensions returns the vector width observed on the last call,
// or 0 before the first successful embedding.
func (e *Embedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}
