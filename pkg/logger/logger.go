package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a JSON slog.Logger configured for the given service name.
func New(service string, level slog.Level) *slog.Logger {
	return NewWithFormat(service, level, "json")
}

// NewWithFormat returns a logger writing to stdout. Format "text" selects a
// colourised console handler for local development; anything else is JSON.
func NewWithFormat(service string, level slog.Level, format string) *slog.Logger {
	return slog.New(handler(os.Stdout, level, format)).With("service", service)
}

// ParseLevel maps debug, info, warn and error onto slog levels (default info).
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func handler(w io.Writer, level slog.Level, format string) slog.Handler {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}
