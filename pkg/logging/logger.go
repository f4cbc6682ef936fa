// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentCache  = "http-cache"
	ComponentClient = "http-client"
	ComponentProxy  = "cache-proxy"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Components
// derive their loggers from it with NewLogger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// ParseLevel validates a configured level name. The empty string means
// LevelInfo.
func ParseLevel(s string) (LogLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	case string(LevelDebug), string(LevelInfo), string(LevelWarn), string(LevelError):
		return LogLevel(name), nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// zerologLevel maps l onto zerolog; unknown levels fall back to info.
func (l LogLevel) zerologLevel() zerolog.Level {
	parsed, err := ParseLevel(string(l))
	if err != nil {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(string(parsed))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache lookups (state, x_cache, key)
//   - Freshness evaluation (age, lifetime, heuristic)
//   - Stores (key, ttl_hint) and background revalidations
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Storage backend opened, migrations applied
//   - Requests that succeeded after retry
//
// Warn: Warning conditions that don't prevent operation
//   - Background revalidation failures
//   - Unusable cache entries, storage reads failing during fallback
//   - Retry attempts exhausted, failed client requests
//
// Error: Error conditions requiring attention
//   - Storage backend unavailable at startup
//   - Configuration errors
//   - Server failures
//
// Context Fields:
//   - component: http-cache, http-client, cache-proxy
//   - url, method: request being served
//   - state: MISS, HIT_FRESH, HIT_STALE_SERVABLE, REVALIDATING, NETWORK_FALLBACK
//   - x_cache: hit, stale or miss
//   - status_code: HTTP status code
//   - duration: Request duration
//   - error_class: client, server, rate_limit, network
//   - task_id: background revalidation id
//   - request_id: proxy request id
