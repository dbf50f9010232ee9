package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/pkg/types"
)

func mem(id, category string, tags ...string) *types.Memory {
	return &types.Memory{ID: id, Metadata: types.Metadata{Category: category, Tags: tags}}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}

func TestRank_OrdersByScore(t *testing.T) {
	a, b, c := mem("a", "general"), mem("b", "general"), mem("c", "general")
	candidates := []Candidate{
		{Memory: a, Vector: []float32{1, 0}},
		{Memory: b, Vector: []float32{0, 1}},
		{Memory: c, Vector: []float32{0.7, 0.7}},
	}

	got := Rank([]float32{1, 0}, candidates, 2, Filters{})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Memory.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "c", got[1].Memory.ID)
	assert.InDelta(t, 0.7071, got[1].Score, 1e-3)
}

func TestRank_FiltersBeforeRanking(t *testing.T) {
	candidates := []Candidate{
		{Memory: mem("x", "work", "go", "db"), Vector: []float32{0, 1}},
		{Memory: mem("y", "work", "go"), Vector: []float32{1, 0}},
		{Memory: mem("z", "home", "go", "db"), Vector: []float32{1, 0}},
	}

	got := Rank([]float32{1, 0}, candidates, 10, Filters{Tags: []string{"go", "db"}})
	require.Len(t, got, 2)
	assert.Equal(t, "z", got[0].Memory.ID)
	assert.Equal(t, "x", got[1].Memory.ID)

	got = Rank([]float32{1, 0}, candidates, 10, Filters{Category: "work"})
	require.Len(t, got, 2)
	assert.Equal(t, "y", got[0].Memory.ID)
}

func TestRank_EdgeCases(t *testing.T) {
	candidates := []Candidate{
		{Memory: mem("a", "general"), Vector: []float32{1, 0}},
		{Memory: mem("b", "general"), Vector: nil},
	}
	assert.Empty(t, Rank([]float32{1, 0}, candidates, 0, Filters{}))
	assert.Empty(t, Rank([]float32{1, 0}, candidates, -3, Filters{}))
	assert.Empty(t, Rank([]float32{1, 0}, nil, 5, Filters{}))

	got := Rank([]float32{1, 0}, candidates, 5, Filters{})
	require.Len(t, got, 1, "candidates without vectors are skipped")

	// equal scores keep insertion order
	ties := []Candidate{
		{Memory: mem("first", "general"), Vector: []float32{1, 1}},
		{Memory: mem("second", "general"), Vector: []float32{2, 2}},
	}
	got = Rank([]float32{1, 1}, ties, 2, Filters{})
	assert.Equal(t, "first", got[0].Memory.ID)
	assert.Equal(t, "second", got[1].Memory.ID)
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		n, limit, offset int
		start, end       int
	}{
		{10, 3, 0, 0, 3},
		{10, 3, 9, 9, 10},
		{10, 3, 10, 10, 10},
		{10, 0, 0, 10, 10},
		{10, 5, -2, 0, 5},
		{0, 5, 0, 0, 0},
	}
	for _, tt := range tests {
		start, end := Paginate(tt.n, tt.limit, tt.offset)
		assert.Equal(t, tt.start, start, "start for %+v", tt)
		assert.Equal(t, tt.end, end, "end for %+v", tt)
	}
}

func TestFilters(t *testing.T) {
	assert.True(t, Filters{}.IsEmpty())
	assert.Equal(t, []string{"go"}, Filters{Tags: []string{" GO ", ""}}.Normalized().Tags)
	assert.True(t, Filters{}.Match(types.Metadata{Category: "x"}))
}
