package zarrpyr

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with dataset-specific context.
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
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithDataset adds a dataset name field to the logger.
func (l *Logger) WithDataset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", name),
	}
}

// WithChannel adds a channel field to the logger.
func (l *Logger) WithChannel(channel int) *Logger {
	return &Logger{
		Logger: l.Logger.With("channel", channel),
	}
}

// WithLevel adds a resolution level field to the logger.
func (l *Logger) WithLevel(level int) *Logger {
	return &Logger{
		Logger: l.Logger.With("level", level),
	}
}

// LogCalibration logs a calibration push to the host.
func (l *Logger) LogCalibration(ctx context.Context, unit string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "calibration push failed",
			"unit", unit,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "calibration pushed",
			"unit", unit,
		)
	}
}

// LogWrite logs a region edit.
func (l *Logger) LogWrite(ctx context.Context, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "region write failed",
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "region written",
			"bytes", bytes,
		)
	}
}

// LogPersist logs a persist operation.
func (l *Logger) LogPersist(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "persist failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "persist completed")
	}
}
