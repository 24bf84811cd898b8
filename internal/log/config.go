package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config represents logging configuration.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "warn",
		Format: "json",
	}
}

// ParseLevel parses string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build creates a logger for cfg writing to w.
func Build(cfg Config, w io.Writer) Logger {
	format := strings.ToLower(cfg.Format)
	if format != "text" {
		format = "json"
	}
	return NewWriterLogger(w, format, ParseLevel(cfg.Level))
}

// Configure sets up the default logger based on config.
func Configure(cfg Config) {
	SetDefault(Build(cfg, os.Stderr))
}
