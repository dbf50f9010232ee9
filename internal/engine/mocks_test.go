package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/embedding"
	"github.com/scrypster/memorycore/internal/events"
	"github.com/scrypster/memorycore/internal/metrics"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/memory"
	"github.com/scrypster/memorycore/pkg/types"
)

// MockEmbedder implements embedding.Service for testing.
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.([]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEmbedder) Dimension() int { return 2 }
func (m *MockEmbedder) Model() string  { return "mock" }

func (m *MockEmbedder) HealthCheck(ctx context.Context) embedding.Health {
	args := m.Called(ctx)
	return args.Get(0).(embedding.Health)
}

// flakyBackend wraps the in-memory store and fails the first failSaves saves.
type flakyBackend struct {
	*memory.Store
	mu        sync.Mutex
	failSaves int
	saves     int
}

func (b *flakyBackend) Save(ctx context.Context, m *types.Memory) error {
	b.mu.Lock()
	b.saves++
	fail := b.saves <= b.failSaves
	b.mu.Unlock()
	if fail {
		return types.NewStorageOperationError("save", errors.New("database is locked"))
	}
	return b.Store.Save(ctx, m)
}

func (b *flakyBackend) saveCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

type fixture struct {
	manager   *Manager
	backend   *flakyBackend
	embedder  embedding.Service
	collector *metrics.Collector
	received  *[]events.Event
	logs      *bytes.Buffer
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	return cfg
}

func newFixture(t *testing.T, embedder embedding.Service, cfg *config.Config) *fixture {
	t.Helper()
	if embedder == nil {
		embedder = embedding.NewHashProvider(16)
	}
	if cfg == nil {
		cfg = testConfig()
	}

	var logs bytes.Buffer
	logger := log.New(&logs)
	logger.SetLevel(log.DebugLevel)

	backend := &flakyBackend{Store: memory.New()}
	collector := metrics.NewCollector()
	bus := events.NewSimpleBus(logger)

	var received []events.Event
	bus.Subscribe(events.Wildcard, func(e events.Event) error {
		received = append(received, e)
		return nil
	})

	m, err := NewManager(backend, embedder, cfg, WithEventBus(bus), WithMetrics(collector), WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	return &fixture{
		manager:   m,
		backend:   backend,
		embedder:  embedder,
		collector: collector,
		received:  &received,
		logs:      &logs,
	}
}

func (f *fixture) eventTypes() []events.Type {
	var out []events.Type
	for _, e := range *f.received {
		out = append(out, e.Type())
	}
	return out
}

// compile-time check that the wrapper still satisfies the backend contract
var _ storage.Backend = (*flakyBackend)(nil)
