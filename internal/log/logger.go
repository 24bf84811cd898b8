package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the interface for QuantaFrame logging
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Enabled(level slog.Level) bool
}

// logger wraps slog.Logger
type logger struct {
	slog *slog.Logger
}

var (
	// Default logger instance
	defaultLogger Logger
)

func init() {
	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	defaultLogger = &logger{slog: slog.New(handler)}
}

// SetDefault sets the default logger
func SetDefault(l Logger) {
	defaultLogger = l
}

// Default returns the default logger
func Default() Logger {
	return defaultLogger
}

// New creates a new logger with the given handler
func New(handler slog.Handler) Logger {
	return &logger{slog: slog.New(handler)}
}

// NewWriterLogger creates a logger writing to w in the given format ("json" or "text").
func NewWriterLogger(w io.Writer, format string, level slog.Level) Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return &logger{slog: slog.New(slog.NewTextHandler(w, opts))}
	}
	return &logger{slog: slog.New(slog.NewJSONHandler(w, opts))}
}

// NewTextLogger creates a new text logger on stderr
func NewTextLogger(level slog.Level) Logger {
	return NewWriterLogger(os.Stderr, "text", level)
}

// NewJSONLogger creates a new JSON logger on stderr
func NewJSONLogger(level slog.Level) Logger {
	return NewWriterLogger(os.Stderr, "json", level)
}

// Discard returns a logger that drops every record.
func Discard() Logger {
	return NewWriterLogger(io.Discard, "text", slog.LevelError+4)
}

func (l *logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

func (l *logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

func (l *logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

func (l *logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

func (l *logger) With(args ...any) Logger {
	return &logger{slog: l.slog.With(args...)}
}

func (l *logger) Enabled(level slog.Level) bool {
	return l.slog.Enabled(context.Background(), level)
}

// Helper functions for structured logging

// String returns a string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int returns an int attribute
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

// Int64 returns an int64 attribute
func Int64(key string, value int64) slog.Attr {
	return slog.Int64(key, value)
}

// Bool returns a bool attribute
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns a duration attribute
func Duration(key string, value time.Duration) slog.Attr {
	return slog.Duration(key, value)
}

// Any returns an any attribute
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Planner attributes

// QueryID tags a record with the dispatcher's query id.
func QueryID(id string) slog.Attr {
	return slog.String("query_id", id)
}

// Pass tags a record with an optimizer pass name.
func Pass(name string) slog.Attr {
	return slog.String("pass", name)
}

// Executor tags a record with an executor name.
func Executor(name string) slog.Attr {
	return slog.String("executor", name)
}
