// Package sqlite provides the durable single-node storage backend built on
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

const backendName = "sqlite"

// DefaultSearchCandidates caps how many embedded memories a single search
// loads, newest first.
const DefaultSearchCandidates = 10000

// Compile-time interface assertion.
var _ storage.Backend = (*MemoryStore)(nil)

// MemoryStore implements storage.Backend using SQLite.
type MemoryStore struct {
	dsn              string
	logger           *log.Logger
	searchCandidates int

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithLogger sets the store's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSearchCandidates overrides DefaultSearchCandidates.
func WithSearchCandidates(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.searchCandidates = n
		}
	}
}

// NewMemoryStore creates a store for dsn. No connection is made until Initialize.
func NewMemoryStore(dsn string, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		dsn:              dsn,
		logger:           log.Default().WithPrefix(backendName),
		searchCandidates: DefaultSearchCandidates,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the database and applies the schema. If the first open
// fails on stale WAL files left by a crashed process, it removes them and
// retries once. Calling Initialize on an open store is a no-op.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := s.open(ctx)
	if err != nil && isRecoverableWALError(err) {
		if dbPath := dbPathFromDSN(s.dsn); dbPath != "" && isWALStale(dbPath) {
			removeStaleWAL(dbPath, s.logger)
			db, err = s.open(ctx)
			if err == nil {
				s.logger.Info("recovered from stale WAL files", "path", dbPath)
			}
		}
	}
	if err != nil {
		return types.NewStorageConnectionError(err)
	}

	s.db = db
	s.closed = false
	return nil
}

// open opens a SQLite database, configures WAL mode, and creates the schema.
func (s *MemoryStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; a single connection serialises writes and
	// also keeps a ":memory:" database alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

// Close flushes the WAL into the main database file and releases resources.
// Closing twice is a no-op.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint on close failed", "error", err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// conn returns the open database or an operation error. Callers hold s.mu.
func (s *MemoryStore) conn(op string) (*sql.DB, error) {
	if s.closed {
		return nil, types.NewStorageOperationError(op, storage.ErrClosed)
	}
	if s.db == nil {
		return nil, types.NewStorageOperationError(op, storage.ErrNotInitialized)
	}
	return s.db, nil
}

// Save creates or replaces a memory (upsert semantics). The row keeps its
// original seq so List order is stable across updates.
func (s *MemoryStore) Save(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" {
		return types.NewInvalidMemoryError("id", "memory ID is required")
	}
	if memory.TenantID == "" {
		return types.NewInvalidMemoryError("tenant_id", "tenant ID is required")
	}

	row, err := encodeMemory(memory)
	if err != nil {
		return types.NewStorageOperationError("save", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("save")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO memories (
			tenant_id, id, content,
			category, importance, tags, custom_fields,
			embedding, dimension,
			relationships, versions, version,
			created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			importance = excluded.importance,
			tags = excluded.tags,
			custom_fields = excluded.custom_fields,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			relationships = excluded.relationships,
			versions = excluded.versions,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`
	_, err = db.ExecContext(ctx, query,
		memory.TenantID,
		memory.ID,
		memory.Content,
		row.category,
		row.importance,
		row.tags,
		row.customFields,
		nullableBlob(row.embedding),
		len(memory.Embedding),
		row.relationships,
		row.versions,
		memory.Version,
		formatTime(memory.CreatedAt),
		formatTime(memory.UpdatedAt),
		nullableTime(memory.ExpiresAt),
	)
	if err != nil {
		return types.NewStorageOperationError("save", fmt.Errorf("failed to store memory: %w", err))
	}
	return nil
}

// Get retrieves a memory by ID within a tenant. Returns (nil, nil) when absent.
func (s *MemoryStore) Get(ctx context.Context, id, tenantID string) (*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("get")
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE tenant_id = ? AND id = ?`
	m, err := scanMemory(db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewStorageOperationError("get", err)
	}
	return m, nil
}

// Delete removes a memory. Deleting an absent memory is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id, tenantID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("delete")
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM memories WHERE tenant_id = ? AND id = ?`, tenantID, id); err != nil {
		return types.NewStorageOperationError("delete", fmt.Errorf("failed to delete memory: %w", err))
	}
	return nil
}

// List returns matching memories in insertion order.
func (s *MemoryStore) List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*types.Memory, error) {
	opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("list")
	if err != nil {
		return nil, err
	}

	where, args := filterClause(tenantID, opts.Filters)
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where + ` ORDER BY seq ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewStorageOperationError("list", fmt.Errorf("failed to list memories: %w", err))
	}
	defer rows.Close()

	memories := make([]*types.Memory, 0, opts.Limit)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, types.NewStorageOperationError("list", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageOperationError("list", err)
	}
	return memories, nil
}

// Count returns the number of matching memories.
func (s *MemoryStore) Count(ctx context.Context, tenantID string, filters storage.Filters) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("count")
	if err != nil {
		return 0, err
	}

	where, args := filterClause(tenantID, filters.Normalized())
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE `+where, args...).Scan(&n); err != nil {
		return 0, types.NewStorageOperationError("count", fmt.Errorf("failed to count memories: %w", err))
	}
	return n, nil
}

// HealthCheck pings the database and reports row and schema details.
func (s *MemoryStore) HealthCheck(ctx context.Context) storage.Health {
	h := storage.Health{
		Status:  storage.StatusHealthy,
		Backend: backendName,
		Details: map[string]interface{}{"path": s.dsn},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn("health_check")
	if err != nil {
		h.Status = storage.StatusUnhealthy
		h.Error = err.Error()
		return h
	}

	if err := db.PingContext(ctx); err != nil {
		h.Status = storage.StatusUnhealthy
		h.Error = err.Error()
		return h
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
		h.Status = storage.StatusDegraded
		h.Error = err.Error()
		return h
	}
	h.Details["memories"] = total
	return h
}

// filterClause builds the WHERE clause shared by list, count and search.
// The tag subset test requires every filter tag to appear in the tags array.
func filterClause(tenantID string, f storage.Filters) (string, []interface{}) {
	clauses := []string{"tenant_id = ?"}
	args := []interface{}{tenantID}

	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if len(f.Tags) > 0 {
		tagsJSON, _ := json.Marshal(f.Tags)
		clauses = append(clauses, `NOT EXISTS (
			SELECT 1 FROM json_each(?) AS req
			WHERE req.value NOT IN (SELECT value FROM json_each(memories.tags))
		)`)
		args = append(args, string(tagsJSON))
	}
	return strings.Join(clauses, " AND "), args
}

// memoryColumns lists the columns read by scanMemory, in order.
const memoryColumns = `tenant_id, id, content,
	category, importance, tags, custom_fields,
	embedding, dimension,
	relationships, versions, version,
	created_at, updated_at, expires_at`

// encodedMemory holds the serialized column values of a memory.
type encodedMemory struct {
	category      string
	importance    string
	tags          string
	customFields  string
	embedding     []byte
	relationships string
	versions      string
}

func encodeMemory(m *types.Memory) (*encodedMemory, error) {
	tags := m.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	custom := m.Metadata.CustomFields
	if custom == nil {
		custom = map[string]interface{}{}
	}
	customJSON, err := json.Marshal(custom)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	rels := m.Relationships
	if rels == nil {
		rels = []types.Relationship{}
	}
	relsJSON, err := json.Marshal(rels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relationships: %w", err)
	}

	versions := m.Versions
	if versions == nil {
		versions = []types.Version{}
	}
	versionsJSON, err := json.Marshal(versions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal versions: %w", err)
	}

	return &encodedMemory{
		category:      m.Metadata.Category,
		importance:    string(m.Metadata.Importance),
		tags:          string(tagsJSON),
		customFields:  string(customJSON),
		embedding:     serializeEmbedding(m.Embedding),
		relationships: string(relsJSON),
		versions:      string(versionsJSON),
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		m                                types.Memory
		importance, tagsJSON, customJSON string
		relsJSON, versionsJSON           string
		createdAt, updatedAt             string
		expiresAt                        sql.NullString
		embedding                        []byte
		dimension                        int
	)
	err := row.Scan(
		&m.TenantID, &m.ID, &m.Content,
		&m.Metadata.Category, &importance, &tagsJSON, &customJSON,
		&embedding, &dimension,
		&relsJSON, &versionsJSON, &m.Version,
		&createdAt, &updatedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	m.Metadata.Importance = types.Importance(importance)

	if err := json.Unmarshal([]byte(tagsJSON), &m.Metadata.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if len(m.Metadata.Tags) == 0 {
		m.Metadata.Tags = nil
	}
	if err := json.Unmarshal([]byte(customJSON), &m.Metadata.CustomFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
	}
	if len(m.Metadata.CustomFields) == 0 {
		m.Metadata.CustomFields = nil
	}
	if err := json.Unmarshal([]byte(relsJSON), &m.Relationships); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
	}
	if len(m.Relationships) == 0 {
		m.Relationships = nil
	}
	if err := json.Unmarshal([]byte(versionsJSON), &m.Versions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal versions: %w", err)
	}
	if len(m.Versions) == 0 {
		m.Versions = nil
	}

	if m.Embedding, err = deserializeEmbedding(embedding, dimension); err != nil {
		return nil, fmt.Errorf("failed to decode embedding for %s: %w", m.ID, err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, err
		}
		m.ExpiresAt = &t
	}
	return &m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
