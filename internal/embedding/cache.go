package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedService memoizes Embed results keyed by model and text.
type CachedService struct {
	Service
	cache *ristretto.Cache
}

// NewCachedService wraps svc with a cache holding up to size vectors.
func NewCachedService(svc Service, size int64) (*CachedService, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedService{Service: svc, cache: cache}, nil
}

func (c *CachedService) key(text string) string {
	return c.Model() + "\x00" + text
}

// Embed returns a cached vector when present, otherwise delegates and caches.
func (c *CachedService) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(c.key(text)); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}
	vec, err := c.Service.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(c.key(text), append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedService) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *CachedService) Close() { c.cache.Close() }
