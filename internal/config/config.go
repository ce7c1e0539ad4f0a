package config

import (
	"fmt"
	"time"

	"github.com/rezkam/jobengine/internal/env"
)

// Storage backend selectors for EngineConfig.StorageBackend.
const (
	StorageBackendFS       = "fs"
	StorageBackendPostgres = "postgres"
	StorageBackendSQLite   = "sqlite"
)

// EngineConfig holds all configuration for the engine binary: the poll
// loop, the scheduler's aging policy, each executor backend's pool size,
// and which state-store implementation to run against.
type EngineConfig struct {
	PollInterval time.Duration `env:"ENGINE_POLL_INTERVAL"`

	AgingInterval time.Duration `env:"ENGINE_AGING_INTERVAL"`
	AgingBoost    int           `env:"ENGINE_AGING_BOOST"`

	ThreadPoolSize       int `env:"ENGINE_THREAD_POOL_SIZE"`
	ThreadPoolQueueDepth int `env:"ENGINE_THREAD_POOL_QUEUE_DEPTH"`
	ProcessPoolSize      int `env:"ENGINE_PROCESS_POOL_SIZE"`
	AsyncQueueDepth      int `env:"ENGINE_ASYNC_QUEUE_DEPTH"`

	StorageBackend string `env:"ENGINE_STORAGE_BACKEND"`
	FSDir          string `env:"ENGINE_FS_DIR"`
	DatabaseDSN    string `env:"ENGINE_DB_DSN"`

	Observability ObservabilityConfig
}

// ObservabilityConfig gates the OpenTelemetry wiring: disabled by default
// so running the engine never requires a collector to be reachable.
type ObservabilityConfig struct {
	Enabled     bool   `env:"ENGINE_OTEL_ENABLED"`
	ServiceName string `env:"OTEL_SERVICE_NAME"`
}

// applyDefaults fills in anything Load left at its zero value.
// internal/env does not interpret a "default" struct tag; defaults are
// the consuming code's responsibility.
func (c *EngineConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.AgingInterval <= 0 {
		c.AgingInterval = time.Second
	}
	if c.AgingBoost <= 0 {
		c.AgingBoost = 1
	}
	if c.ThreadPoolSize <= 0 {
		c.ThreadPoolSize = 8
	}
	if c.ThreadPoolQueueDepth <= 0 {
		c.ThreadPoolQueueDepth = 64
	}
	if c.ProcessPoolSize <= 0 {
		c.ProcessPoolSize = 4
	}
	if c.AsyncQueueDepth <= 0 {
		c.AsyncQueueDepth = 64
	}
	if c.StorageBackend == "" {
		c.StorageBackend = StorageBackendFS
	}
	if c.FSDir == "" {
		c.FSDir = "./jobengine-data"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "jobengine"
	}
}

// Validate checks the loaded configuration is internally consistent.
func (c *EngineConfig) Validate() error {
	switch c.StorageBackend {
	case StorageBackendFS:
		if c.FSDir == "" {
			return fmt.Errorf("ENGINE_FS_DIR is required when ENGINE_STORAGE_BACKEND is %q", StorageBackendFS)
		}
	case StorageBackendPostgres, StorageBackendSQLite:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("ENGINE_DB_DSN is required when ENGINE_STORAGE_BACKEND is %q", c.StorageBackend)
		}
	default:
		return fmt.Errorf("unknown ENGINE_STORAGE_BACKEND: %s", c.StorageBackend)
	}
	return nil
}

// Load reads EngineConfig from the environment, fills in defaults for
// anything left unset, and validates the result.
func Load() (*EngineConfig, error) {
	cfg := &EngineConfig{}

	// env.Load calls Validate on any Validator it is given; load through a
	// method-less view so Validate runs only once defaults are applied.
	type rawEngineConfig EngineConfig
	if err := env.Load((*rawEngineConfig)(cfg)); err != nil {
		return nil, fmt.Errorf("failed to load engine config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
