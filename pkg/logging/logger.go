// Package logging configures the process-wide zerolog logger and hands out
// component loggers derived from it.
//
// Setup must run before components are constructed: NewLogger captures the
// global logger at call time.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as written in configuration files.
type LogLevel string

// Level names accepted in configuration. "warning" and "off" are accepted as
// aliases of warn and disabled.
const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarn     LogLevel = "warn"
	LevelError    LogLevel = "error"
	LevelDisabled LogLevel = "disabled"
)

var levels = map[string]zerolog.Level{
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"disabled": zerolog.Disabled,
	"off":      zerolog.Disabled,
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel `yaml:"level"`

	// Pretty switches from JSON lines to zerolog's console format
	Pretty bool `yaml:"pretty"`

	// Output defaults to os.Stderr; stdout is reserved for query results
	Output io.Writer `yaml:"-"`
}

// DefaultConfig logs warnings and errors as JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelWarn,
		Output: os.Stderr,
	}
}

// Setup installs a logger built from cfg as the global logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// ValidLevel reports whether level names a known level.
func ValidLevel(level LogLevel) bool {
	_, ok := levels[strings.ToLower(string(level))]
	return ok
}

// parseLevel maps a level name to zerolog; unknown names log at info.
func parseLevel(level LogLevel) zerolog.Level {
	if l, ok := levels[strings.ToLower(string(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// NewLogger returns a child of the global logger tagged with component.
//
// Components in use: transport, bridge, query-client, pagination, events,
// metrics and okquery (the command). Common fields are url, status,
// error_class, query_id, page, etag and ttl.
//
// Levels: debug for per-request detail (cache decisions, page transitions,
// discarded callbacks), info for stream lifecycle and finished pagination
// runs, warn for cache and stream failures that do not stop a query, error
// for failures surfaced to the user.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
