package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/memorycore/pkg/types"
)

// OpenAI defaults
const (
	DefaultOpenAIURL   = "https://api.openai.com"
	DefaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIProvider generates embeddings with the OpenAI embeddings API
// (or any server speaking the same protocol).
type OpenAIProvider struct {
	t *transport
}

// openAIEmbeddingRequest is the request body for POST /v1/embeddings.
type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openAIEmbeddingResponse is the response body from POST /v1/embeddings.
type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Compile-time interface assertion.
var _ Service = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider with a 30s default timeout.
func NewOpenAIProvider(cfg HTTPConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIProvider{t: newTransport("openai", cfg)}
}

// Embed generates an embedding vector for the given text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request; results follow input order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openAIEmbeddingRequest{Model: p.t.cfg.Model, Input: texts, Dimensions: p.t.cfg.Dimension}
	var resp openAIEmbeddingResponse
	if err := p.t.postJSON(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, types.NewEmbeddingModelError(p.t.cfg.Model,
			fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) || out[idx] != nil {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, types.NewEmbeddingModelError(p.t.cfg.Model, fmt.Errorf("openai returned empty embedding"))
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[idx] = vec
	}
	p.t.observe(out[0])
	return out, nil
}

// Dimension returns the configured or learned vector length.
func (p *OpenAIProvider) Dimension() int { return int(p.t.dimension.Load()) }

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string { return p.t.cfg.Model }

// HealthCheck verifies the API is reachable via /v1/models.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) Health {
	return p.t.health(ctx, "/v1/models")
}
