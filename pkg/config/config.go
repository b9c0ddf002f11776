// Package config loads the okquery YAML configuration.
//
// ${VAR} references in the file are expanded from the environment before
// parsing, defaults are applied to unset fields, and a few settings can be
// overridden directly with OKQUERY_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/okquery/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvRedisAddr = "OKQUERY_REDIS_ADDR"
	EnvLogLevel  = "OKQUERY_LOG_LEVEL"
	EnvUserAgent = "OKQUERY_USER_AGENT"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendDisk   = "disk"
)

// Config is the full configuration.
type Config struct {
	UserAgent      string         `yaml:"user_agent"`
	Timeout        time.Duration  `yaml:"timeout"`
	MaxConcurrency int            `yaml:"max_concurrency"`
	PageLimit      int            `yaml:"page_limit"`
	Cache          CacheConfig    `yaml:"cache"`
	Log            logging.Config `yaml:"log"`
	Metrics        MetricsConfig  `yaml:"metrics"`
}

// CacheConfig configures the transport response cache.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	// Path and MaxBytes configure the disk backend
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint
	Addr string `yaml:"addr"`
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the string representation of validation error
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads, expands and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML data. Environment references are expanded first and
// OKQUERY_* overrides are applied after defaults.
func Parse(data []byte) (Config, error) {
	expanded := os.Expand(string(data), os.Getenv)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.SetDefaults()
	cfg.ApplyEnv()

	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, fmt.Errorf("validation errors: %v", errs)
	}
	return cfg, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "okquery/0.1"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 16
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "localhost:6379"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = defaultCachePath()
	}
	if c.Log.Level == "" {
		c.Log.Level = logging.LevelWarn
	}
}

// ApplyEnv applies the OKQUERY_* overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = logging.LogLevel(v)
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		c.UserAgent = v
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, ValidationError{Field: "user_agent", Message: "is required"})
	}
	if c.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "timeout", Message: "must not be negative"})
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, ValidationError{Field: "max_concurrency", Message: "must not be negative"})
	}
	if c.PageLimit < 0 {
		errs = append(errs, ValidationError{Field: "page_limit", Message: "must not be negative"})
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendRedis, BackendDisk:
	default:
		errs = append(errs, ValidationError{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q", c.Cache.Backend)})
	}
	if c.Cache.MaxBytes < 0 {
		errs = append(errs, ValidationError{Field: "cache.max_bytes", Message: "must not be negative"})
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)})
	}

	return errs
}

// defaultCachePath places the disk cache in the user cache directory.
func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "okquery", "responses.db")
}
