// Package observability provides the logger and Prometheus metrics shared
// by every pipeline component.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/config"
)

// NewLogger builds a slog logger from the configured level and format.
// Unknown levels fall back to info and unknown formats to JSON.
func NewLogger(cfg *config.Config) *slog.Logger {
	return newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
