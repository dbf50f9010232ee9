package sqlite

import (
	"context"
	"fmt"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/vector"
	"github.com/scrypster/memorycore/pkg/types"
)

// Search loads the tenant's embedded memories that pass the filters (newest
// searchCandidates of them) and ranks them in process. Candidates are ranked
// in insertion order so that equal scores keep that order.
func (s *MemoryStore) Search(ctx context.Context, query []float32, tenantID string, limit int, filters storage.Filters) ([]storage.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("search")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.SearchResult{}, nil
	}

	filters = filters.Normalized()
	where, args := filterClause(tenantID, filters)
	q := `SELECT ` + memoryColumns + ` FROM memories
		WHERE ` + where + ` AND embedding IS NOT NULL
		ORDER BY seq DESC LIMIT ?`
	args = append(args, s.searchCandidates)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.NewStorageOperationError("search", fmt.Errorf("failed to load candidates: %w", err))
	}
	defer rows.Close()

	var newestFirst []vector.Candidate
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, types.NewStorageOperationError("search", err)
		}
		newestFirst = append(newestFirst, vector.Candidate{Memory: m, Vector: m.Embedding})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageOperationError("search", err)
	}

	candidates := make([]vector.Candidate, len(newestFirst))
	for i, c := range newestFirst {
		candidates[len(newestFirst)-1-i] = c
	}
	if len(candidates) == s.searchCandidates {
		s.logger.Debug("search candidate cap reached", "tenant", tenantID, "cap", s.searchCandidates)
	}

	// Filters already applied in SQL; Rank re-checks them cheaply.
	scored := vector.Rank(query, candidates, limit, filters)
	return storage.ToSearchResults(scored, backendName), nil
}
