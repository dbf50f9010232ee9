package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/scrypster/memorycore/pkg/types"
)

// HTTPConfig holds the settings shared by HTTP-backed providers.
type HTTPConfig struct {
	// BaseURL is the API root.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimension is the expected vector length; 0 learns it from the first response.
	Dimension int

	// Timeout bounds each request.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests; 0 disables limiting.
	RequestsPerSecond float64

	// Logger receives breaker state changes.
	Logger *log.Logger
}

// transport performs rate-limited, circuit-broken JSON requests.
type transport struct {
	provider  string
	cfg       HTTPConfig
	client    *http.Client
	breaker   *CircuitBreaker
	limiter   *rate.Limiter
	dimension atomic.Int64
}

func newTransport(provider string, cfg HTTPConfig) *transport {
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("embedding")
	}
	t := &transport{
		provider: provider,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  NewCircuitBreaker(provider+"-embeddings", cfg.Logger),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	t.dimension.Store(int64(cfg.Dimension))
	return t
}

// postJSON sends body to path and decodes the JSON reply into out.
// Failures are wrapped as model-class embedding errors.
func (t *transport) postJSON(ctx context.Context, path string, body, out interface{}) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return types.NewEmbeddingModelError(t.cfg.Model, fmt.Errorf("rate limiter: %w", err))
		}
	}

	_, err := t.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, t.do(ctx, http.MethodPost, path, body, out)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			err = fmt.Errorf("%s circuit breaker open: %w", t.provider, err)
		}
		return types.NewEmbeddingModelError(t.cfg.Model, err)
	}
	return nil
}

func (t *transport) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", t.provider, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// observe learns the dimension from the first vector when none was configured.
func (t *transport) observe(vec []float32) {
	t.dimension.CompareAndSwap(0, int64(len(vec)))
}

// health probes path with a GET, bypassing the breaker, and folds breaker
// state into the result.
func (t *transport) health(ctx context.Context, path string) Health {
	h := Health{
		Status:    types.HealthHealthy,
		Provider:  t.provider,
		Model:     t.cfg.Model,
		Dimension: int(t.dimension.Load()),
		Details: map[string]interface{}{
			"circuit_breaker": t.breaker.State(),
			"breaker_metrics": t.breaker.Metrics(),
		},
	}
	if err := t.do(ctx, http.MethodGet, path, nil, nil); err != nil {
		h.Status = types.HealthUnhealthy
		h.Error = err.Error()
		return h
	}
	if t.breaker.State() != "closed" {
		h.Status = types.HealthDegraded
	}
	return h
}
