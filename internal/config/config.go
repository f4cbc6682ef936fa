// Package config handles YAML configuration loading for the cache proxy,
// with ${ENV} expansion and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"go.yaml.in/yaml/v3"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the top-level proxy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig describes the origin all proxied paths are fetched from.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CacheConfig holds cache behaviour settings.
type CacheConfig struct {
	Strategy           string        `yaml:"strategy"`
	TTL                time.Duration `yaml:"ttl"`             // cache-first only
	StaleRetention     time.Duration `yaml:"stale_retention"` // negative disables
	RevalidateTimeout  time.Duration `yaml:"revalidate_timeout"`
	DedupeRevalidation bool          `yaml:"dedupe_revalidation"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend string       `yaml:"backend"` // memory, redis, sqlite
	Memory  MemoryConfig `yaml:"memory"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	MaxSize int `yaml:"max_size"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	DSN           string        `yaml:"dsn"` // file path or ":memory:"
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			UserAgent: "httpcache-proxy/1.0",
			Timeout:   30 * time.Second,
		},
		Cache: CacheConfig{
			Strategy:          string(cache.StrategyRFCCompliant),
			StaleRetention:    cache.DefaultStaleRetention,
			RevalidateTimeout: cache.DefaultRevalidateTimeout,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Memory:  MemoryConfig{MaxSize: 10_000},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "httpcache:",
			},
			SQLite: SQLiteConfig{
				DSN:           "httpcache.db",
				PurgeInterval: 10 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
			},
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
// Unset variables are left untouched.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads, parses and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it over Default
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url %q must be an absolute URL", c.Upstream.BaseURL))
	}
	if c.Upstream.Timeout < 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must be >= 0 (got %s)", c.Upstream.Timeout))
	}

	strategy, err := cache.ParseStrategy(c.Cache.Strategy)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache.strategy: %w", err))
	} else if strategy == cache.StrategyCacheFirst && c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be > 0 for %s (got %s)", strategy, c.Cache.TTL))
	}
	if c.Cache.RevalidateTimeout < 0 {
		errs = append(errs, fmt.Errorf("cache.revalidate_timeout must be >= 0 (got %s)", c.Cache.RevalidateTimeout))
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Storage.Memory.MaxSize <= 0 {
			errs = append(errs, fmt.Errorf("storage.memory.max_size must be > 0 (got %d)", c.Storage.Memory.MaxSize))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	case BackendSQLite:
		if c.Storage.SQLite.DSN == "" {
			errs = append(errs, errors.New("storage.sqlite.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be one of memory, redis, sqlite", c.Storage.Backend))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if t := c.Telemetry.Tracing; t.Enabled {
		if t.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.tracing.endpoint is required when tracing is enabled"))
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate must be within [0, 1] (got %g)", t.SampleRate))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// CacheConfig converts the cache section into a cache.Config over storage.
// c must have passed Validate.
func (c *Config) CacheConfig(storage cache.Storage) cache.Config {
	strategy, _ := cache.ParseStrategy(c.Cache.Strategy)

	cfg := cache.DefaultConfig(storage)
	cfg.Strategy = strategy
	cfg.TTL = c.Cache.TTL
	cfg.StaleRetention = c.Cache.StaleRetention
	cfg.RevalidateTimeout = c.Cache.RevalidateTimeout
	cfg.DedupeRevalidation = c.Cache.DedupeRevalidation
	return cfg
}
