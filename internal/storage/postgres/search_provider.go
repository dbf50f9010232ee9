package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/vector"
	"github.com/scrypster/memorycore/pkg/types"
)

// fallbackCandidates caps the rows ranked in process when pgvector is missing.
const fallbackCandidates = 10000

// Search performs semantic similarity search using pgvector cosine distance
// (score = 1 - distance). Ties are broken by insertion order.
//
// When pgvector is not available, the tenant's embeddings are loaded and
// ranked in process.
func (s *MemoryStore) Search(ctx context.Context, query []float32, tenantID string, limit int, filters storage.Filters) ([]storage.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.conn("search"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.SearchResult{}, nil
	}

	filters = filters.Normalized()
	if !s.pgvectorAvailable {
		return s.searchInProcess(ctx, query, tenantID, limit, filters)
	}
	return s.searchPgvector(ctx, query, tenantID, limit, filters)
}

func (s *MemoryStore) searchPgvector(ctx context.Context, query []float32, tenantID string, limit int, filters storage.Filters) ([]storage.SearchResult, error) {
	where, args := filterClause(tenantID, filters)
	n := len(args)
	querySQL := fmt.Sprintf(`
		SELECT %s, embedding <=> $%d::vector AS distance
		FROM memories
		WHERE %s AND embedding IS NOT NULL
		ORDER BY distance ASC, seq ASC
		LIMIT $%d`,
		memorySelectColumns, n+1, where, n+2)
	args = append(args, pgvector.NewVector(query), limit)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, types.NewStorageOperationError("search", fmt.Errorf("postgres: vector search: %w", err))
	}
	defer func() { _ = rows.Close() }()

	results := []storage.SearchResult{}
	for rows.Next() {
		var distance float64
		m, err := scanMemory(trailingScanner{rows: rows, distance: &distance})
		if err != nil {
			return nil, types.NewStorageOperationError("search", fmt.Errorf("postgres: scan search row: %w", err))
		}
		results = append(results, storage.SearchResult{
			Memory:   m,
			Score:    1 - distance,
			Metadata: map[string]interface{}{"backend": backendName, "distance": distance},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageOperationError("search", err)
	}
	return results, nil
}

func (s *MemoryStore) searchInProcess(ctx context.Context, query []float32, tenantID string, limit int, filters storage.Filters) ([]storage.SearchResult, error) {
	where, args := filterClause(tenantID, filters)
	querySQL := fmt.Sprintf(`
		SELECT * FROM (
			SELECT %s, seq FROM memories
			WHERE %s AND embedding_raw IS NOT NULL
			ORDER BY seq DESC LIMIT %d
		) newest ORDER BY seq ASC`,
		memorySelectColumns, where, fallbackCandidates)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, types.NewStorageOperationError("search", fmt.Errorf("postgres: load candidates: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var candidates []vector.Candidate
	for rows.Next() {
		var seq int64
		m, err := scanMemory(trailingScanner{rows: rows, seq: &seq})
		if err != nil {
			return nil, types.NewStorageOperationError("search", fmt.Errorf("postgres: scan candidate: %w", err))
		}
		candidates = append(candidates, vector.Candidate{Memory: m, Vector: m.Embedding})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageOperationError("search", err)
	}

	scored := vector.Rank(query, candidates, limit, filters)
	return storage.ToSearchResults(scored, backendName), nil
}

// trailingScanner appends a trailing column (distance or seq) to the
// destinations scanMemory passes in.
type trailingScanner struct {
	rows     rowScanner
	distance *float64
	seq      *int64
}

func (d trailingScanner) Scan(dest ...interface{}) error {
	if d.distance != nil {
		dest = append(dest, d.distance)
	}
	if d.seq != nil {
		dest = append(dest, d.seq)
	}
	return d.rows.Scan(dest...)
}
