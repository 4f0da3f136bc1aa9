// Package observability builds the process logger. The updater is a
// one-shot tool driven from scripts, so the channel split matters: progress
// goes to stdout at INFO, problems go to stderr at WARN and above.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig contains configuration for logger setup.
type LoggerConfig struct {
	Level   zerolog.Level
	Format  string // "json" or "console"
	Service string // Service name
	Version string // Application version
}

// NewLogger creates a zerolog logger with the given configuration. INFO and
// below are written to stdout; WARN and above to stderr.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out, errOut io.Writer = os.Stdout, os.Stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339, NoColor: true}
		errOut = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: true}
	}

	return zerolog.New(splitWriter{out: out, err: errOut}).
		Level(cfg.Level).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Str("version", cfg.Version).
		Logger()
}

// splitWriter routes events by level so error lines land on the error
// channel with their level tag intact.
type splitWriter struct {
	out io.Writer
	err io.Writer
}

func (w splitWriter) Write(p []byte) (int, error) {
	return w.out.Write(p)
}

func (w splitWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= zerolog.WarnLevel && level < zerolog.NoLevel {
		return w.err.Write(p)
	}
	return w.out.Write(p)
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// NewTestLogger creates a logger suitable for testing.
// Outputs to a buffer that can be inspected.
func NewTestLogger(output io.Writer) zerolog.Logger {
	return zerolog.New(output).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}
