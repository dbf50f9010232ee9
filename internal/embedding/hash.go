package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/scrypster/memorycore/pkg/types"
)

// DefaultHashDimension matches all-MiniLM-L6-v2.
const DefaultHashDimension = 384

// HashProvider generates deterministic unit vectors from a hash of the text.
// It needs no network and is used offline and in tests. Equal texts always
// map to equal vectors; different texts map to near-orthogonal ones.
type HashProvider struct {
	dimension int
}

// Compile-time interface assertion.
var _ Service = (*HashProvider)(nil)

// NewHashProvider creates a hash provider; dimension <= 0 selects 384.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

// Embed creates a deterministic embedding from text.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewEmbeddingModelError(p.Model(), err)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimension)
	for i := range vec {
		// LCG step, mapped into [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text in turn.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the embedding size.
func (p *HashProvider) Dimension() int { return p.dimension }

// Model returns "hash".
func (p *HashProvider) Model() string { return "hash" }

// HealthCheck always reports healthy.
func (p *HashProvider) HealthCheck(context.Context) Health {
	return Health{
		Status:    types.HealthHealthy,
		Provider:  "hash",
		Model:     p.Model(),
		Dimension: p.dimension,
	}
}

// normalize scales vec to unit length in place.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
