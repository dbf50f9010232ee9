// Package vector implements the similarity engine shared by the storage
// backends: cosine scoring, metadata filters, ranking and pagination.
package vector

import (
	"math"
	"sort"

	"github.com/scrypster/memorycore/pkg/types"
)

// Cosine computes the cosine similarity of two equal-length vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Filters restricts which memories take part in a search, list or count.
// Zero-valued fields do not filter.
type Filters struct {
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"` // memory must carry every tag
}

// IsEmpty reports whether the filter matches everything.
func (f Filters) IsEmpty() bool {
	return f.Category == "" && len(f.Tags) == 0
}

// Normalized returns a copy with tags normalized the same way memory tags are.
func (f Filters) Normalized() Filters {
	return Filters{Category: f.Category, Tags: types.NormalizeTags(f.Tags)}
}

// Match reports whether md satisfies the filter.
func (f Filters) Match(md types.Metadata) bool {
	if f.Category != "" && md.Category != f.Category {
		return false
	}
	return md.HasTags(f.Tags)
}

// Candidate is a memory paired with the vector it is ranked by.
type Candidate struct {
	Memory *types.Memory
	Vector []float32
}

// Scored is a ranked candidate.
type Scored struct {
	Memory *types.Memory
	Score  float64
}

// Rank filters candidates, scores the survivors against query and returns
// at most limit of them ordered by descending score. Ties keep input order.
// A limit of zero or less yields an empty result.
func Rank(query []float32, candidates []Candidate, limit int, filters Filters) []Scored {
	if limit <= 0 {
		return []Scored{}
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if c.Memory == nil || len(c.Vector) == 0 {
			continue
		}
		if !filters.Match(c.Memory.Metadata) {
			continue
		}
		scored = append(scored, Scored{Memory: c.Memory, Score: Cosine(query, c.Vector)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Paginate returns the [start, end) window of a collection of n items.
// Negative offsets are treated as zero; a non-positive limit yields an empty window.
func Paginate(n, limit, offset int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= n {
		return n, n
	}
	end = offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
