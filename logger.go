package clipvault

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger with clipvault-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithSegment adds the segment field to the logger.
func (l *Logger) WithSegment(segment string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", segment),
	}
}

// WithEntry adds the entry id field to the logger.
func (l *Logger) WithEntry(id uuid.UUID) *Logger {
	return &Logger{
		Logger: l.Logger.With("entry", id),
	}
}

// LogSave logs an entry save operation.
func (l *Logger) LogSave(ctx context.Context, segment string, id uuid.UUID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"segment", segment,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "save completed",
			"segment", segment,
			"entry", id,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, segment string, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"segment", segment,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"segment", segment,
			"results", resultsFound,
		)
	}
}
