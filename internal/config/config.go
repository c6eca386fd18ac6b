// Package config loads the application configuration from a YAML file
// with environment variable expansion, falling back to sane defaults
// for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig tunes the BASE.gov client.
type APIConfig struct {
	BaseURL              string  `yaml:"base_url,omitempty"`
	AccessToken          string  `yaml:"access_token,omitempty"`
	RateLimitRPS         float64 `yaml:"rate_limit_rps,omitempty"`          // Requests per second, default: 0.5
	TimeoutSeconds       int     `yaml:"timeout_seconds,omitempty"`         // Default: 120
	MaxRetries           int     `yaml:"max_retries,omitempty"`             // Default: 5
	RetryDelaySeconds    int     `yaml:"retry_delay_seconds,omitempty"`     // Default: 2
	MaxRetryDelaySeconds int     `yaml:"max_retry_delay_seconds,omitempty"` // Default: 60
	BackoffFactor        float64 `yaml:"backoff_factor,omitempty"`          // Default: 2
}

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	Port string `yaml:"port,omitempty"` // Default: 8080
}

// Config is the full application configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url,omitempty"`
	DataDir     string `yaml:"data_dir,omitempty"` // Cache, error and report files live here

	CacheTTLHours          int `yaml:"cache_ttl_hours,omitempty"`          // Default: 24
	HistoricalDelaySeconds int `yaml:"historical_delay_seconds,omitempty"` // Pause between backfill years, default: 5

	API    APIConfig    `yaml:"api,omitempty"`
	Server ServerConfig `yaml:"server,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir:                "data",
		CacheTTLHours:          24,
		HistoricalDelaySeconds: 5,
		API: APIConfig{
			RateLimitRPS:         0.5,
			TimeoutSeconds:       120,
			MaxRetries:           5,
			RetryDelaySeconds:    2,
			MaxRetryDelaySeconds: 60,
			BackoffFactor:        2,
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment. A missing file is not an error: defaults apply, with
// DATABASE_URL and BASEGOV_ACCESS_TOKEN picked up from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to env-only config
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.API.AccessToken == "" {
		cfg.API.AccessToken = os.Getenv("BASEGOV_ACCESS_TOKEN")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.CacheTTLHours < 0 {
		return fmt.Errorf("config: cache_ttl_hours must not be negative, got %d", c.CacheTTLHours)
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("config: api.rate_limit_rps must not be negative, got %g", c.API.RateLimitRPS)
	}
	if c.HistoricalDelaySeconds < 0 {
		return fmt.Errorf("config: historical_delay_seconds must not be negative, got %d", c.HistoricalDelaySeconds)
	}
	return nil
}

// CacheTTL returns the cache lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// HistoricalDelay returns the inter-year backfill pause as a duration.
func (c *Config) HistoricalDelay() time.Duration {
	return time.Duration(c.HistoricalDelaySeconds) * time.Second
}
