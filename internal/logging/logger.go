// internal/logging/logger.go

// Package logging wraps a process-wide zerolog logger.
//
// Call Init once from main. Components derive their own logger with
// WithComponent and keep it, so log lines carry a "component" field:
//
//	logger := logging.WithComponent("position-tracker")
//	logger.Info().Str("source", "nats").Msg("Watch started")
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration
type Config struct {
	Level  string
	Format string // json or console
	Caller bool

	// Output defaults to os.Stderr
	Output io.Writer
}

var root atomic.Pointer[zerolog.Logger]

func init() {
	Init(Config{})
}

// Init replaces the global logger
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()
	root.Store(&logger)
}

// parseLevel falls back to info for empty or unknown names
func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(name)
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func current() zerolog.Logger {
	return *root.Load()
}

// WithComponent creates a child logger tagged with a component name
func WithComponent(component string) zerolog.Logger {
	return current().With().Str("component", component).Logger()
}

// Info starts an info message on the global logger
func Info() *zerolog.Event {
	logger := current()
	return logger.Info()
}

// Fatal logs and exits the process
func Fatal() *zerolog.Event {
	logger := current()
	return logger.Fatal()
}

// NewTestLogger writes to w, for capturing output in tests
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
