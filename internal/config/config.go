// Package config provides configuration management for memorycore.
//
// Load builds the defaults, overlays an optional YAML file, then overlays
// environment variables with the MEMORYCORE_ prefix, and finally validates
// the result. Later sources win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "MEMORYCORE_CONFIG"

// Config holds all configuration settings for memorycore.
type Config struct {
	// TenantID is used when an operation does not name a tenant.
	TenantID string `yaml:"tenant_id"`

	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Retry         RetryConfig         `yaml:"retry"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`

	// DefaultTTLDays applies to new memories when > 0.
	DefaultTTLDays int `yaml:"default_ttl_days"`

	// EnableVersioning records a version snapshot on every update.
	EnableVersioning bool `yaml:"enable_versioning"`

	// MaxMemorySize caps content length in bytes; 0 disables the check.
	MaxMemorySize int `yaml:"max_memory_size"`
}

// StorageConfig contains storage backend configuration.
type StorageConfig struct {
	Backend        string `yaml:"backend"`         // memory, sqlite, postgres (default: sqlite)
	Path           string `yaml:"path"`            // data directory (default: ./memorycore_db)
	DSN            string `yaml:"dsn"`             // postgres connection string
	CollectionName string `yaml:"collection_name"` // sqlite database file stem (default: memories)
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // hash, ollama, openai (default: hash)
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Dimension         int           `yaml:"dimension"` // 0 learns it from the provider
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"` // cached query vectors; 0 disables the cache
}

// RetryConfig controls retries of storage writes.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat     string `yaml:"log_format"` // text, json
	EnableMetrics bool   `yaml:"enable_metrics"`
}

// ServerConfig contains network listener settings.
type ServerConfig struct {
	EventsAddr string `yaml:"events_addr"` // websocket event stream address; empty disables it
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TenantID: "default",
		Storage: StorageConfig{
			Backend:        "sqlite",
			Path:           "./memorycore_db",
			CollectionName: "memories",
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			CacheSize: 1000,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialDelay:    time.Second,
			MaxDelay:        10 * time.Second,
			ExponentialBase: 2,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			EnableMetrics: true,
		},
		Server: ServerConfig{
			EventsAddr: "127.0.0.1:6364",
		},
		EnableVersioning: true,
		MaxMemorySize:    1_000_000,
	}
}

// Load builds a Config from defaults, the YAML file at path (or the file
// named by MEMORYCORE_CONFIG when path is empty), and MEMORYCORE_*
// environment variables. A missing explicit file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays MEMORYCORE_* environment variables onto c.
func (c *Config) applyEnv() {
	c.TenantID = getEnv("MEMORYCORE_TENANT_ID", c.TenantID)

	c.Storage.Backend = getEnv("MEMORYCORE_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("MEMORYCORE_STORAGE_PATH", c.Storage.Path)
	c.Storage.DSN = getEnv("MEMORYCORE_STORAGE_DSN", c.Storage.DSN)
	c.Storage.CollectionName = getEnv("MEMORYCORE_STORAGE_COLLECTION_NAME", c.Storage.CollectionName)

	c.Embedding.Provider = getEnv("MEMORYCORE_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("MEMORYCORE_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.BaseURL = getEnv("MEMORYCORE_EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("MEMORYCORE_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Dimension = getEnvInt("MEMORYCORE_EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Embedding.Timeout = getEnvDuration("MEMORYCORE_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.RequestsPerSecond = getEnvFloat("MEMORYCORE_EMBEDDING_REQUESTS_PER_SECOND", c.Embedding.RequestsPerSecond)
	c.Embedding.CacheSize = getEnvInt("MEMORYCORE_EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Retry.MaxAttempts = getEnvInt("MEMORYCORE_RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.InitialDelay = getEnvDuration("MEMORYCORE_RETRY_INITIAL_DELAY", c.Retry.InitialDelay)
	c.Retry.MaxDelay = getEnvDuration("MEMORYCORE_RETRY_MAX_DELAY", c.Retry.MaxDelay)
	c.Retry.ExponentialBase = getEnvFloat("MEMORYCORE_RETRY_EXPONENTIAL_BASE", c.Retry.ExponentialBase)

	c.Observability.LogLevel = getEnv("MEMORYCORE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("MEMORYCORE_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.EnableMetrics = getEnvBool("MEMORYCORE_ENABLE_METRICS", c.Observability.EnableMetrics)

	c.Server.EventsAddr = getEnv("MEMORYCORE_EVENTS_ADDR", c.Server.EventsAddr)

	c.DefaultTTLDays = getEnvInt("MEMORYCORE_DEFAULT_TTL_DAYS", c.DefaultTTLDays)
	c.EnableVersioning = getEnvBool("MEMORYCORE_ENABLE_VERSIONING", c.EnableVersioning)
	c.MaxMemorySize = getEnvInt("MEMORYCORE_MAX_MEMORY_SIZE", c.MaxMemorySize)
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.TenantID) == "" {
		errs = append(errs, errors.New("tenant_id must not be empty"))
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
		if c.Storage.CollectionName == "" {
			errs = append(errs, errors.New("storage.collection_name must not be empty"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Embedding.Provider {
	case "hash", "ollama":
	case "openai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("embedding.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, errors.New("embedding.dimension must not be negative"))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embedding.requests_per_second must not be negative"))
	}
	if c.Embedding.CacheSize < 0 {
		errs = append(errs, errors.New("embedding.cache_size must not be negative"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Retry.ExponentialBase < 1 {
		errs = append(errs, errors.New("retry.exponential_base must be at least 1"))
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown observability.log_level %q", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown observability.log_format %q", c.Observability.LogFormat))
	}

	if c.DefaultTTLDays < 0 {
		errs = append(errs, errors.New("default_ttl_days must not be negative"))
	}
	if c.MaxMemorySize < 0 {
		errs = append(errs, errors.New("max_memory_size must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// SQLitePath returns the database file used by the sqlite backend.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.Path, c.Storage.CollectionName+".db")
}

// EventsDir returns the directory lifecycle events are written to.
func (c *Config) EventsDir() string {
	return filepath.Join(c.Storage.Path, "events")
}

// BackupDir returns the directory sqlite backups are written to.
func (c *Config) BackupDir() string {
	return filepath.Join(c.Storage.Path, "backups")
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("1.5s") or bare seconds ("2").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
