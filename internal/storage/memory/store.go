// Package memory provides the reference in-process storage backend.
//
// Memories are held in a tenant-and-id keyed map with a per-tenant insertion
// order so that List is deterministic. Stored values are clones; callers
// never share state with the store.
package memory

import (
	"context"
	"sync"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/vector"
	"github.com/scrypster/memorycore/pkg/types"
)

const backendName = "memory"

// Compile-time interface assertion.
var _ storage.Backend = (*Store)(nil)

// tenantData holds one tenant's memories.
type tenantData struct {
	byID  map[string]*types.Memory
	order []string // insertion order of ids currently present
}

// Store implements storage.Backend in process memory.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{tenants: make(map[string]*tenantData)}
}

// Initialize is a no-op for the in-memory store; it reopens a closed store.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return nil
}

// Close marks the store closed. Data is retained until the store is dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen(op string) error {
	if s.closed {
		return types.NewStorageOperationError(op, storage.ErrClosed)
	}
	return nil
}

// Save upserts a clone of memory under its tenant.
func (s *Store) Save(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" {
		return types.NewInvalidMemoryError("id", "memory ID is required")
	}
	if memory.TenantID == "" {
		return types.NewInvalidMemoryError("tenant_id", "tenant ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("save"); err != nil {
		return err
	}

	td, ok := s.tenants[memory.TenantID]
	if !ok {
		td = &tenantData{byID: make(map[string]*types.Memory)}
		s.tenants[memory.TenantID] = td
	}
	if _, exists := td.byID[memory.ID]; !exists {
		td.order = append(td.order, memory.ID)
	}
	td.byID[memory.ID] = memory.Clone()
	return nil
}

// Get returns a clone of the memory or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id, tenantID string) (*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get"); err != nil {
		return nil, err
	}

	td, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	m, ok := td.byID[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

// Delete removes the memory if present.
func (s *Store) Delete(ctx context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("delete"); err != nil {
		return err
	}

	td, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	if _, ok := td.byID[id]; !ok {
		return nil
	}
	delete(td.byID, id)
	for i, oid := range td.order {
		if oid == id {
			td.order = append(td.order[:i], td.order[i+1:]...)
			break
		}
	}
	return nil
}

// Search ranks every embedded memory of the tenant against query.
func (s *Store) Search(ctx context.Context, query []float32, tenantID string, limit int, filters storage.Filters) ([]storage.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("search"); err != nil {
		return nil, err
	}

	td, ok := s.tenants[tenantID]
	if !ok || limit <= 0 {
		return []storage.SearchResult{}, nil
	}

	candidates := make([]vector.Candidate, 0, len(td.order))
	for _, id := range td.order {
		m := td.byID[id]
		if !m.HasEmbedding() {
			continue
		}
		candidates = append(candidates, vector.Candidate{Memory: m, Vector: m.Embedding})
	}

	scored := vector.Rank(query, candidates, limit, filters.Normalized())
	for i := range scored {
		scored[i].Memory = scored[i].Memory.Clone()
	}
	return storage.ToSearchResults(scored, backendName), nil
}

// List returns matching memories in insertion order.
func (s *Store) List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*types.Memory, error) {
	opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("list"); err != nil {
		return nil, err
	}

	matched := s.matching(tenantID, opts.Filters)
	start, end := vector.Paginate(len(matched), opts.Limit, opts.Offset)

	out := make([]*types.Memory, 0, end-start)
	for _, m := range matched[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// Count returns the number of matching memories.
func (s *Store) Count(ctx context.Context, tenantID string, filters storage.Filters) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("count"); err != nil {
		return 0, err
	}
	return len(s.matching(tenantID, filters.Normalized())), nil
}

// matching must be called with the lock held.
func (s *Store) matching(tenantID string, filters storage.Filters) []*types.Memory {
	td, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	out := make([]*types.Memory, 0, len(td.order))
	for _, id := range td.order {
		m := td.byID[id]
		if filters.Match(m.Metadata) {
			out = append(out, m)
		}
	}
	return out
}

// HealthCheck reports store status and the number of memories held.
func (s *Store) HealthCheck(ctx context.Context) storage.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, td := range s.tenants {
		total += len(td.byID)
	}
	h := storage.Health{
		Status:  storage.StatusHealthy,
		Backend: backendName,
		Details: map[string]interface{}{
			"tenants":  len(s.tenants),
			"memories": total,
		},
	}
	if s.closed {
		h.Status = storage.StatusUnhealthy
		h.Error = storage.ErrClosed.Error()
	}
	return h
}
