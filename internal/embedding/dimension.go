package embedding

import (
	"context"
	"sync/atomic"

	"github.com/scrypster/memorycore/pkg/types"
)

// dimensionGuard rejects vectors whose length differs from the expected one.
type dimensionGuard struct {
	Service
	expected atomic.Int64
}

// WithDimensionCheck wraps svc so every returned vector has the expected
// length. When dimension is 0 the guard adopts the inner service's
// dimension, or the length of the first vector it sees.
func WithDimensionCheck(svc Service, dimension int) Service {
	g := &dimensionGuard{Service: svc}
	if dimension <= 0 {
		dimension = svc.Dimension()
	}
	g.expected.Store(int64(dimension))
	return g
}

func (g *dimensionGuard) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.Service.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := g.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (g *dimensionGuard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.Service.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, vec := range vecs {
		if err := g.check(vec); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// Dimension returns the enforced length.
func (g *dimensionGuard) Dimension() int {
	return int(g.expected.Load())
}

func (g *dimensionGuard) check(vec []float32) error {
	g.expected.CompareAndSwap(0, int64(len(vec)))
	if want := int(g.expected.Load()); len(vec) != want {
		return types.NewEmbeddingDimensionError(g.Model(), want, len(vec))
	}
	return nil
}
