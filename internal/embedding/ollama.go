package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/memorycore/pkg/types"
)

// Ollama defaults
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaProvider generates embeddings with a local Ollama server.
type OllamaProvider struct {
	t *transport
}

// embedRequest represents the request body for the /api/embed endpoint.
type embedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"` // string or []string
}

// embedResponse represents the response from the /api/embed endpoint.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Compile-time interface assertion.
var _ Service = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider. If configuration values are
// not provided, the following defaults are used:
//   - BaseURL: http://localhost:11434
//   - Model: nomic-embed-text
//   - Timeout: 5 seconds
func NewOllamaProvider(cfg HTTPConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &OllamaProvider{t: newTransport("ollama", cfg)}
}

// Embed generates the embedding for text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in a single request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return p.embed(ctx, texts, len(texts))
}

func (p *OllamaProvider) embed(ctx context.Context, input interface{}, want int) ([][]float32, error) {
	var resp embedResponse
	if err := p.t.postJSON(ctx, "/api/embed", embedRequest{Model: p.t.cfg.Model, Input: input}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != want {
		return nil, types.NewEmbeddingModelError(p.t.cfg.Model,
			fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), want))
	}
	for _, v := range resp.Embeddings {
		if len(v) == 0 {
			return nil, types.NewEmbeddingModelError(p.t.cfg.Model, fmt.Errorf("ollama returned empty embedding vector"))
		}
	}
	p.t.observe(resp.Embeddings[0])
	return resp.Embeddings, nil
}

// Dimension returns the configured or learned vector length.
func (p *OllamaProvider) Dimension() int { return int(p.t.dimension.Load()) }

// Model returns the configured model name.
func (p *OllamaProvider) Model() string { return p.t.cfg.Model }

// HealthCheck verifies that Ollama is reachable via /api/version.
func (p *OllamaProvider) HealthCheck(ctx context.Context) Health {
	return p.t.health(ctx, "/api/version")
}
