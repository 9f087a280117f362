// Package config loads client configuration from the environment.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	API   APIConfig
	Retry RetryConfig
	Cache CacheConfig
}

type APIConfig struct {
	// BaseURL is the backend base URL, e.g. https://api.finly.app/v1.
	BaseURL string `env:"FINLY_API_BASE_URL, required"`

	// TimeoutSeconds bounds each HTTP call. A slow finance-data fetch
	// should fail rather than hang a screen.
	TimeoutSeconds int `env:"FINLY_API_TIMEOUT_SECS, default=15"`
}

// RetryConfig tunes the default (read) retry policy. Mutating verbs use
// deliberately narrower policies derived from these values.
type RetryConfig struct {
	MaxAttempts     int     `env:"FINLY_RETRY_MAX_ATTEMPTS, default=3"`
	BaseDelayMillis int     `env:"FINLY_RETRY_BASE_DELAY_MS, default=500"`
	Multiplier      float64 `env:"FINLY_RETRY_MULTIPLIER, default=2"`
}

type CacheConfig struct {
	// MaxEntries bounds the in-memory cache layer.
	MaxEntries int `env:"FINLY_CACHE_MAX_ENTRIES, default=10000"`

	// PolicyPath optionally points at a YAML cache policy file overriding
	// the built-in invalidation rules, revalidation allowlist and TTLs.
	PolicyPath string `env:"FINLY_CACHE_POLICY_PATH"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig tags cannot express.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("FINLY_API_BASE_URL must be an http(s) URL")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("FINLY_API_TIMEOUT_SECS must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("FINLY_RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("FINLY_RETRY_MULTIPLIER must be at least 1")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("FINLY_CACHE_MAX_ENTRIES must be at least 1")
	}
	return nil
}
