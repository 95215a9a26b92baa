package logger

import (
	"io"
	"log/slog"
	"os"
)

// New creates a logger writing to stderr. Debug enables debug records and
// source locations; otherwise only warnings and errors are written so that
// command output stays readable.
func New(debug bool) *slog.Logger {
	return NewWithWriter(debug, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(debug bool, w io.Writer) *slog.Logger {
	if w == nil {
		w = io.Discard
	}
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: debug,
		Level:     level,
	}))
}

// Discard drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
