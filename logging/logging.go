// Package logging provides a thin wrapper around log/slog so components can
// accept one logger type regardless of output format.
package logging

import (
	"io"
	"log/slog"
)

// noopLevel is above any level slog will ever emit, so a handler configured
// with it discards everything without formatting cost.
const noopLevel = slog.Level(1000)

// Logger wraps *slog.Logger. The zero value is not usable; construct with one
// of the New* functions or Noop.
type Logger struct {
	*slog.Logger
}

// NewJSONLogger returns a Logger emitting JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger returns a Logger emitting human-readable records to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// Noop returns a Logger that discards all records.
func Noop() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: noopLevel})),
	}
}

// WithRun returns a child logger tagged with a run identifier.
func (l *Logger) WithRun(identifier string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("run", identifier))}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
