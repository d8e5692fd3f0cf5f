package config

import (
	"fmt"
	"strconv"

	"github.com/kelseyhightower/envconfig"
)

// Config carries all process configuration, loaded from the environment.
type Config struct {
	App struct {
		Port int `envconfig:"PORT" default:"8080"`
	}

	Log struct {
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
		Format string `envconfig:"LOG_FORMAT" default:"json"`
	}

	DB struct {
		// URL selects the Postgres-backed store when set; empty means the
		// in-memory store.
		URL string `envconfig:"DATABASE_URL" default:""`
	}

	Dispatch struct {
		Workers int `envconfig:"DISPATCH_WORKERS" default:"8"`
		Buffer  int `envconfig:"DISPATCH_BUFFER" default:"256"`
	}

	Store struct {
		// BatchLimit is the store's hard cap on operations per batched write.
		BatchLimit int `envconfig:"STORE_BATCH_LIMIT" default:"500"`
	}

	Cascade struct {
		PageSize int `envconfig:"CASCADE_PAGE_SIZE" default:"100"`
		// BatchThreshold must stay strictly below STORE_BATCH_LIMIT.
		BatchThreshold int `envconfig:"CASCADE_BATCH_THRESHOLD" default:"499"`
	}
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + strconv.Itoa(c.App.Port) }

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if cfg.Cascade.BatchThreshold >= cfg.Store.BatchLimit {
		return nil, fmt.Errorf("CASCADE_BATCH_THRESHOLD (%d) must be below STORE_BATCH_LIMIT (%d)",
			cfg.Cascade.BatchThreshold, cfg.Store.BatchLimit)
	}
	return &cfg, nil
}
