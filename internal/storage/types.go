package storage

import (
	"errors"

	"github.com/scrypster/memorycore/internal/vector"
	"github.com/scrypster/memorycore/pkg/types"
)

// ErrClosed is wrapped by the operation error returned after Close.
var ErrClosed = errors.New("storage backend is closed")

// ErrNotInitialized is wrapped by the operation error returned before Initialize.
var ErrNotInitialized = errors.New("storage backend is not initialized")

// Filters restricts search, list and count to matching memories.
type Filters = vector.Filters

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	Memory   *types.Memory          `json:"memory"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"` // backend-specific details
}

// ListOptions provides pagination and filtering options for list operations.
type ListOptions struct {
	// Limit is the number of items to return (default: 100, max: 1000).
	Limit int

	// Offset skips that many matching memories before collecting Limit.
	Offset int

	// Filters restricts the listed memories.
	Filters Filters
}

// Normalize applies defaults and bounds to the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	o.Filters = o.Filters.Normalized()
}

// HealthStatus is the coarse status of a component.
type HealthStatus = types.HealthStatus

// Health statuses
const (
	StatusHealthy   = types.HealthHealthy
	StatusDegraded  = types.HealthDegraded
	StatusUnhealthy = types.HealthUnhealthy
)

// Health describes the state of a storage backend.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Backend string                 `json:"backend"`
	Details map[string]interface{} `json:"details,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ToSearchResults converts ranked candidates into search results.
func ToSearchResults(scored []vector.Scored, backend string) []SearchResult {
	results := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		results = append(results, SearchResult{
			Memory:   s.Memory,
			Score:    s.Score,
			Metadata: map[string]interface{}{"backend": backend},
		})
	}
	return results
}
