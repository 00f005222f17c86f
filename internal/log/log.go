// Package log sets up structured logging for the depthcam commands.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger builds a logger writing to w. JSON is used when GO_ENV is
// "production", text otherwise.
func NewLogger(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if os.Getenv("GO_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init installs the process-wide logger on stderr. Only the first call
// has an effect.
func Init(level string) *slog.Logger {
	once.Do(func() {
		logger = NewLogger(os.Stderr, level)
		slog.SetDefault(logger)
	})
	return logger
}

// L returns the process-wide logger, initialising it at info level if needed.
func L() *slog.Logger {
	return Init("info")
}

// With returns the process-wide logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
