// Package engine implements the memory manager: the orchestrator that
// validates input, embeds content, persists memories with retry, and
// publishes lifecycle events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/embedding"
	"github.com/scrypster/memorycore/internal/events"
	"github.com/scrypster/memorycore/internal/metrics"
	"github.com/scrypster/memorycore/internal/retry"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// DefaultSearchLimit is used when SearchOptions.Limit is zero.
const DefaultSearchLimit = 10

// Manager orchestrates memory operations over a storage backend and an
// embedding service. It holds no per-call state and is safe for concurrent
// use; concurrent updates to the same memory are last-write-wins.
type Manager struct {
	backend  storage.Backend
	embedder embedding.Service
	cfg      *config.Config
	bus      events.Bus
	metrics  metrics.Recorder
	logger   *log.Logger
	now      func() time.Time
	policy   retry.Policy
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventBus sets the bus lifecycle events are published to.
func WithEventBus(bus events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithMetrics sets the metrics sink. A nil recorder disables metrics.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r == nil {
			r = metrics.Noop{}
		}
		m.metrics = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for event timestamps, expiry
// checks and durations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager. cfg may be nil, in which case config.Default() is used.
func NewManager(backend storage.Backend, embedder embedding.Service, cfg *config.Config, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding service is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	m := &Manager{
		backend:  backend,
		embedder: embedder,
		cfg:      cfg,
		metrics:  metrics.Noop{},
		logger:   log.Default().WithPrefix("engine"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewSimpleBus(m.logger)
	}
	m.policy = retry.FromConfig(cfg.Retry, m.logger)
	return m, nil
}

// Initialize prepares the storage backend.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.backend.Initialize(ctx); err != nil {
		m.logger.Error("failed to initialize storage", "err", err)
		return err
	}
	m.logger.Debug("memory manager initialized", "tenant", m.cfg.TenantID)
	return nil
}

// Close releases the backend and any embedding cache.
func (m *Manager) Close() error {
	if c, ok := m.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	return m.backend.Close()
}

// Bus returns the event bus so callers can subscribe.
func (m *Manager) Bus() events.Bus { return m.bus }

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config { return m.cfg }

// SaveOptions controls Save.
type SaveOptions struct {
	Metadata      *types.Metadata
	TenantID      string
	SkipEmbedding bool
	// TTLDays overrides the configured default TTL when set.
	TTLDays *int
}

// Save validates content, embeds it, and persists a new memory.
// An embedding failure is logged and the memory is stored without a vector.
func (m *Manager) Save(ctx context.Context, content string, opts SaveOptions) (*types.Memory, error) {
	tenant := m.tenant(opts.TenantID)
	start := m.now()

	mem, err := m.save(ctx, content, tenant, opts)
	m.record("save", tenant, start, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info("memory saved", "memory_id", mem.ID, "tenant", tenant, "embedded", mem.HasEmbedding())
	m.publish(events.NewMemoryCreated(mem.Clone(), m.now()))
	return mem, nil
}

func (m *Manager) save(ctx context.Context, content, tenant string, opts SaveOptions) (*types.Memory, error) {
	trimmed, err := m.validateContent(content)
	if err != nil {
		return nil, err
	}
	mem, err := types.NewMemory(trimmed, opts.Metadata, tenant)
	if err != nil {
		return nil, err
	}

	switch {
	case opts.TTLDays != nil:
		// 0 opts out of the configured default
		if *opts.TTLDays != 0 {
			mem.SetTTL(*opts.TTLDays)
		}
	case m.cfg.DefaultTTLDays > 0:
		mem.SetTTL(m.cfg.DefaultTTLDays)
	}

	if !opts.SkipEmbedding {
		if out := m.embed(ctx, mem.Content); out.ok() {
			mem.Embedding = out.vector
		} else {
			m.logger.Warn("saving memory without embedding", "memory_id", mem.ID, "tenant", tenant, "err", out.err)
		}
	}

	if err := m.persist(ctx, "save", mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Get returns the memory, or (nil, nil) when it does not exist for tenant.
// Expired memories are still returned.
func (m *Manager) Get(ctx context.Context, id, tenantID string) (*types.Memory, error) {
	tenant := m.tenant(tenantID)
	start := m.now()

	mem, err := m.backend.Get(ctx, id, tenant)
	switch {
	case err != nil:
		m.record("get", tenant, start, err)
		return nil, err
	case mem == nil:
		m.metrics.RecordOperation("get", tenant, metrics.StatusNotFound, m.since(start))
		return nil, nil
	}

	m.record("get", tenant, start, nil)
	if mem.IsExpiredAt(m.now()) {
		m.logger.Debug("returning expired memory", "memory_id", id, "tenant", tenant, "expires_at", mem.ExpiresAt)
	}
	return mem, nil
}

// UpdateOptions lists the fields to change. Nil fields are left alone.
type UpdateOptions struct {
	Content  *string
	Metadata *types.Metadata
	TenantID string
}

// Update applies changes to an existing memory. It returns a
// *types.NotFoundError when the memory does not exist.
func (m *Manager) Update(ctx context.Context, id string, opts UpdateOptions) (*types.Memory, error) {
	tenant := m.tenant(opts.TenantID)
	start := m.now()

	mem, previous, err := m.update(ctx, id, tenant, opts)
	m.record("update", tenant, start, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info("memory updated", "memory_id", id, "tenant", tenant, "version", mem.Version)
	m.publish(events.NewMemoryUpdated(mem.Clone(), previous, m.now()))
	return mem, nil
}

func (m *Manager) update(ctx context.Context, id, tenant string, opts UpdateOptions) (*types.Memory, int, error) {
	var content string
	if opts.Content != nil {
		trimmed, err := m.validateContent(*opts.Content)
		if err != nil {
			return nil, 0, err
		}
		content = trimmed
	}
	var md types.Metadata
	if opts.Metadata != nil {
		md = opts.Metadata.Clone()
		md.Normalize()
		if err := md.Validate(); err != nil {
			return nil, 0, err
		}
	}

	mem, err := m.backend.Get(ctx, id, tenant)
	if err != nil {
		return nil, 0, err
	}
	if mem == nil {
		return nil, 0, types.NewNotFoundError(id, tenant)
	}
	previous := mem.Version

	changed := []string{}
	if opts.Content != nil {
		changed = append(changed, "content")
	}
	if opts.Metadata != nil {
		changed = append(changed, "metadata")
	}

	// the snapshot holds the state before this update
	if m.cfg.EnableVersioning {
		mem.CreateVersion(changed)
	} else {
		mem.Version++
		mem.Touch()
	}

	if opts.Content != nil {
		if err := mem.SetContent(content); err != nil {
			return nil, 0, err
		}
		if out := m.embed(ctx, mem.Content); out.ok() {
			mem.Embedding = out.vector
		} else {
			m.logger.Warn("updated memory left without embedding", "memory_id", id, "tenant", tenant, "err", out.err)
		}
	}
	if opts.Metadata != nil {
		mem.Metadata = md
	}

	if err := m.persist(ctx, "update", mem); err != nil {
		return nil, 0, err
	}
	return mem, previous, nil
}

// Delete removes the memory. Deleting an absent memory is not an error.
func (m *Manager) Delete(ctx context.Context, id, tenantID string) error {
	tenant := m.tenant(tenantID)
	start := m.now()

	err := m.backend.Delete(ctx, id, tenant)
	m.record("delete", tenant, start, err)
	if err != nil {
		return err
	}

	m.logger.Info("memory deleted", "memory_id", id, "tenant", tenant)
	m.publish(events.NewMemoryDeleted(id, tenant, m.now()))
	return nil
}

// SearchOptions controls Search.
type SearchOptions struct {
	TenantID string
	// Limit caps the results; zero means DefaultSearchLimit.
	Limit   int
	Filters storage.Filters
}

// Search embeds query and returns the most similar memories of the tenant.
// Unlike Save, an embedding failure is fatal here.
func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) ([]storage.SearchResult, error) {
	tenant := m.tenant(opts.TenantID)
	start := m.now()

	results, err := m.search(ctx, query, tenant, opts)
	m.record("search", tenant, start, err)
	if err != nil {
		return nil, err
	}

	m.metrics.RecordSearch(tenant)
	m.publish(events.NewMemorySearched(query, tenant, len(results), m.now()))
	return results, nil
}

func (m *Manager) search(ctx context.Context, query, tenant string, opts SearchOptions) ([]storage.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewInvalidQueryError("search query cannot be empty")
	}
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}

	out := m.embed(ctx, query)
	if !out.ok() {
		return nil, out.err
	}
	return m.backend.Search(ctx, out.vector, tenant, limit, opts.Filters.Normalized())
}

// List returns a page of the tenant's memories.
func (m *Manager) List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*types.Memory, error) {
	tenant := m.tenant(tenantID)
	start := m.now()

	list, err := m.backend.List(ctx, tenant, opts)
	m.record("list", tenant, start, err)
	return list, err
}

// Count returns the number of the tenant's memories matching filters.
func (m *Manager) Count(ctx context.Context, tenantID string, filters storage.Filters) (int, error) {
	tenant := m.tenant(tenantID)
	start := m.now()

	n, err := m.backend.Count(ctx, tenant, filters)
	m.record("count", tenant, start, err)
	if err != nil {
		return 0, err
	}
	if filters.IsEmpty() {
		m.metrics.SetMemoryCount(tenant, n)
	}
	return n, nil
}

// AddRelationship links memory id to targetID and persists the change.
func (m *Manager) AddRelationship(ctx context.Context, id, targetID string, relType types.RelationshipType, strength float64, tenantID string) (*types.Memory, error) {
	tenant := m.tenant(tenantID)
	start := m.now()

	mem, previous, err := m.addRelationship(ctx, id, targetID, relType, strength, tenant)
	m.record("add_relationship", tenant, start, err)
	if err != nil {
		return nil, err
	}
	m.publish(events.NewMemoryUpdated(mem.Clone(), previous, m.now()))
	return mem, nil
}

func (m *Manager) addRelationship(ctx context.Context, id, targetID string, relType types.RelationshipType, strength float64, tenant string) (*types.Memory, int, error) {
	mem, err := m.backend.Get(ctx, id, tenant)
	if err != nil {
		return nil, 0, err
	}
	if mem == nil {
		return nil, 0, types.NewNotFoundError(id, tenant)
	}
	previous := mem.Version

	if m.cfg.EnableVersioning {
		mem.CreateVersion([]string{"relationships"})
	} else {
		mem.Version++
		mem.Touch()
	}
	if err := mem.AddRelationship(targetID, relType, strength); err != nil {
		return nil, 0, err
	}
	if err := m.persist(ctx, "add_relationship", mem); err != nil {
		return nil, 0, err
	}
	return mem, previous, nil
}

// PurgeExpired deletes the tenant's expired memories and returns how many
// were removed.
func (m *Manager) PurgeExpired(ctx context.Context, tenantID string) (int, error) {
	tenant := m.tenant(tenantID)
	start := m.now()

	removed, err := m.purgeExpired(ctx, tenant)
	m.record("purge_expired", tenant, start, err)
	if removed > 0 {
		m.logger.Info("purged expired memories", "tenant", tenant, "removed", removed)
	}
	return removed, err
}

func (m *Manager) purgeExpired(ctx context.Context, tenant string) (int, error) {
	now := m.now()
	var expired []string
	for offset := 0; ; offset += storage.MaxListLimit {
		page, err := m.backend.List(ctx, tenant, storage.ListOptions{Limit: storage.MaxListLimit, Offset: offset})
		if err != nil {
			return 0, err
		}
		for _, mem := range page {
			if mem.IsExpiredAt(now) {
				expired = append(expired, mem.ID)
			}
		}
		if len(page) < storage.MaxListLimit {
			break
		}
	}

	removed := 0
	for _, id := range expired {
		if err := m.backend.Delete(ctx, id, tenant); err != nil {
			return removed, err
		}
		removed++
		m.publish(events.NewMemoryDeleted(id, tenant, m.now()))
	}
	return removed, nil
}

// Health reports the combined status of storage and embedding.
func (m *Manager) Health(ctx context.Context) HealthReport {
	return NewHealthChecker(m.backend, m.embedder, m.now).Check(ctx)
}

// tenant resolves the tenant for an operation.
func (m *Manager) tenant(tenantID string) string {
	if tenantID != "" {
		return tenantID
	}
	if m.cfg.TenantID != "" {
		return m.cfg.TenantID
	}
	return types.DefaultTenant
}

func (m *Manager) validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", types.NewInvalidMemoryError("content", "memory content cannot be empty")
	}
	if limit := m.cfg.MaxMemorySize; limit > 0 && len(trimmed) > limit {
		return "", types.NewInvalidMemoryError("content",
			fmt.Sprintf("memory content is %d bytes, exceeds maximum of %d", len(trimmed), limit))
	}
	return trimmed, nil
}

func (m *Manager) persist(ctx context.Context, op string, mem *types.Memory) error {
	return retry.Do(ctx, m.policy, op, func(ctx context.Context) error {
		return m.backend.Save(ctx, mem)
	})
}

func (m *Manager) publish(e events.Event) {
	// failures are logged by the bus and never fail the operation
	_ = m.bus.Publish(e)
}

func (m *Manager) since(start time.Time) time.Duration {
	return m.now().Sub(start)
}

// record logs failures and reports the outcome of op to the metrics sink.
func (m *Manager) record(op, tenant string, start time.Time, err error) {
	status := metrics.StatusSuccess
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotFound):
		status = metrics.StatusNotFound
	default:
		status = metrics.StatusError
		m.logger.Error("memory operation failed", "op", op, "tenant", tenant, "code", types.ErrorCode(err), "err", err)
	}
	m.metrics.RecordOperation(op, tenant, status, m.since(start))
}
