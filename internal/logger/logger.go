// Package logger builds the slog loggers used across denorm and provides
// shared attribute helpers so log keys stay consistent.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/denorm/internal/model"
)

// Format selects the slog handler.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New creates a logger writing to w at level in the given format
// (text or json). Unknown formats fall back to text.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts LOG_LEVEL style strings into a slog.Level.
// Accepts debug, info, warn, warning and error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Scope tags a log line with the component that emitted it.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error attaches an error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Entity identifies a source record.
func Entity(t model.EntityType, originalID int64) slog.Attr {
	return slog.Group("record",
		slog.String("entity_type", string(t)),
		slog.Int64("original_id", originalID),
	)
}
