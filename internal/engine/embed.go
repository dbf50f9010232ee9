package engine

import (
	"context"

	"github.com/scrypster/memorycore/internal/metrics"
	"github.com/scrypster/memorycore/internal/retry"
)

// embedOutcome is the result of embedding one text. Callers decide whether
// a failure is fatal.
type embedOutcome struct {
	vector []float32
	err    error
}

func (o embedOutcome) ok() bool { return o.err == nil }

// embed generates a vector with retry and records the outcome.
func (m *Manager) embed(ctx context.Context, text string) embedOutcome {
	vec, err := retry.DoValue(ctx, m.policy, "embed", func(ctx context.Context) ([]float32, error) {
		return m.embedder.Embed(ctx, text)
	})
	if err != nil {
		m.metrics.RecordEmbedding(metrics.StatusError)
		return embedOutcome{err: err}
	}
	m.metrics.RecordEmbedding(metrics.StatusSuccess)
	return embedOutcome{vector: vec}
}
