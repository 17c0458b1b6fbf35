// Package logging wraps log/slog with the field names used across uvgrid.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with gridding-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr at info level is used.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewText creates a Logger producing human-readable output at the given level.
func NewText(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON creates a Logger producing JSON output at the given level.
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Noop returns a Logger that discards everything.
func Noop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// Or returns l, or a no-op logger when l is nil.
func Or(l *Logger) *Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// WithComponent tags records with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithPass tags records with the pass direction ("sky" or "vis").
func (l *Logger) WithPass(direction string) *Logger {
	return &Logger{Logger: l.Logger.With("pass", direction)}
}

// WithSpw tags records with a spectral window id.
func (l *Logger) WithSpw(spw int) *Logger {
	return &Logger{Logger: l.Logger.With("spw", spw)}
}

// WithTile tags records with a tile id.
func (l *Logger) WithTile(id uint32) *Logger {
	return &Logger{Logger: l.Logger.With("tile", id)}
}
