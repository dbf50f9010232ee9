package embedding

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memorycore/internal/config"
)

// New creates the configured embedding service, wrapped with a dimension
// guard and, when cfg.CacheSize > 0, a query cache.
func New(cfg config.EmbeddingConfig, logger *log.Logger) (Service, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("embedding")
	}

	httpCfg := HTTPConfig{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Dimension:         cfg.Dimension,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	}

	var svc Service
	switch cfg.Provider {
	case "", "hash":
		svc = NewHashProvider(cfg.Dimension)
	case "ollama":
		svc = NewOllamaProvider(httpCfg)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding: openai provider requires an API key")
		}
		svc = NewOpenAIProvider(httpCfg)
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q", cfg.Provider)
	}

	svc = WithDimensionCheck(svc, cfg.Dimension)

	if cfg.CacheSize > 0 {
		cached, err := NewCachedService(svc, int64(cfg.CacheSize))
		if err != nil {
			return nil, err
		}
		svc = cached
	}

	logger.Info("embedding service ready", "provider", cfg.Provider, "model", svc.Model(), "dimension", svc.Dimension())
	return svc, nil
}
