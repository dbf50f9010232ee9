package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the memories table.
// It is intended for use in tests only.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("truncate")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE TABLE memories RESTART IDENTITY"); err != nil {
		return fmt.Errorf("postgres: failed to truncate memories: %w", err)
	}
	return nil
}
