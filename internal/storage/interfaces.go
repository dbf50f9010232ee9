// Package storage provides composable storage interfaces for the memorycore system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Every operation is
// tenant-scoped: an implementation must never return or mutate another
// tenant's data.
package storage

import (
	"context"

	"github.com/scrypster/memorycore/pkg/types"
)

// MemoryStore provides CRUD operations and pagination for memories.
type MemoryStore interface {
	// Save creates or replaces a memory (upsert semantics, no partial merge).
	Save(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by ID within a tenant.
	// Returns (nil, nil) if the memory doesn't exist for that tenant.
	Get(ctx context.Context, id, tenantID string) (*types.Memory, error)

	// Delete removes a memory. Deleting an absent memory is not an error.
	Delete(ctx context.Context, id, tenantID string) error

	// List returns matching memories in a deterministic order.
	List(ctx context.Context, tenantID string, opts ListOptions) ([]*types.Memory, error)

	// Count returns the number of matching memories, ignoring pagination.
	Count(ctx context.Context, tenantID string, filters Filters) (int, error)
}

// SearchProvider provides vector similarity search.
type SearchProvider interface {
	// Search ranks the tenant's embedded memories against query.
	// Memories without an embedding are skipped.
	Search(ctx context.Context, query []float32, tenantID string, limit int, filters Filters) ([]SearchResult, error)
}

// Lifecycle manages the resources behind a backend.
type Lifecycle interface {
	// Initialize prepares the backend. It is idempotent and fails with a
	// connection-class StorageError when the backend cannot be reached.
	Initialize(ctx context.Context) error

	// Close releases resources. Later data operations fail with an
	// operation-class StorageError.
	Close() error

	// HealthCheck reports backend status. Problems are reported in the
	// returned Health, never as a failure.
	HealthCheck(ctx context.Context) Health
}

// Backend is the full contract the memory manager depends on.
type Backend interface {
	Lifecycle
	MemoryStore
	SearchProvider
}
