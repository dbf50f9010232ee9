package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/embedding"
	"github.com/scrypster/memorycore/internal/events"
	"github.com/scrypster/memorycore/internal/metrics"
	"github.com/scrypster/memorycore/internal/notify"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/memory"
	"github.com/scrypster/memorycore/internal/storage/postgres"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
)

// Components exposes what Build wired, for callers that need direct access.
type Components struct {
	Manager   *Manager
	Backend   storage.Backend
	Embedder  embedding.Service
	Bus       *events.SimpleBus
	Collector *metrics.Collector // nil when metrics are disabled
	Events    *notify.EventWriter // nil for the memory backend
}

// Build wires a manager from cfg and initializes it.
func Build(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Components, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = cfg.NewLogger(nil)
	}

	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.Embedding, logger.WithPrefix("embedding"))
	if err != nil {
		return nil, err
	}

	c := &Components{
		Backend:  backend,
		Embedder: embedder,
		Bus:      events.NewSimpleBus(logger.WithPrefix("events")),
	}

	var recorder metrics.Recorder = metrics.Noop{}
	if cfg.Observability.EnableMetrics {
		c.Collector = metrics.NewCollector()
		recorder = c.Collector
	}

	if cfg.Storage.Backend != "memory" {
		c.Events = notify.NewEventWriter(cfg.EventsDir())
		c.Bus.Subscribe(events.Wildcard, c.Events.Handle)
	}

	c.Manager, err = NewManager(backend, embedder, cfg,
		WithEventBus(c.Bus),
		WithMetrics(recorder),
		WithLogger(logger.WithPrefix("engine")),
	)
	if err != nil {
		return nil, err
	}

	if err := c.Manager.Initialize(ctx); err != nil {
		_ = c.Manager.Close()
		return nil, err
	}
	return c, nil
}

// NewBackend creates the storage backend selected by cfg.Storage.Backend.
func NewBackend(cfg *config.Config, logger *log.Logger) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.New(), nil
	case "", "sqlite":
		if err := os.MkdirAll(cfg.Storage.Path, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", cfg.Storage.Path, err)
		}
		return sqlite.NewMemoryStore(cfg.SQLitePath(), sqlite.WithLogger(logger.WithPrefix("sqlite"))), nil
	case "postgres":
		return postgres.NewMemoryStore(cfg.Storage.DSN, postgres.WithLogger(logger.WithPrefix("postgres"))), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}
