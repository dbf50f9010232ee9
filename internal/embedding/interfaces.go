// Package embedding turns text into fixed-dimension vectors.
//
// Providers (Ollama, OpenAI, and a deterministic hash provider) implement
// Service. HTTP providers are wrapped with a circuit breaker and a rate
// limiter; decorators add dimension checks and a query cache.
package embedding

import (
	"context"

	"github.com/scrypster/memorycore/pkg/types"
)

// Service is the contract the memory manager uses to embed text.
type Service interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector length, or 0 while it is still unknown.
	Dimension() int

	// HealthCheck reports provider status. It never fails.
	HealthCheck(ctx context.Context) Health

	// Model returns the configured model name.
	Model() string
}

// Health describes the state of an embedding provider.
type Health struct {
	Status    types.HealthStatus     `json:"status"`
	Provider  string                 `json:"provider"`
	Model     string                 `json:"model"`
	Dimension int                    `json:"dimension"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}
