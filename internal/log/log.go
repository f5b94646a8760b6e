// Package log provides structured logging for go-rider.
// It wraps slog with sensible defaults for a desktop client.
package log

import (
	"log/slog"
	"os"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init initializes the global logger. Valid levels: "debug", "info",
// "warn", "error". When debug is true the level is forced to debug and
// output is human-readable text regardless of environment.
func Init(level string, debug bool) {
	once.Do(func() {
		var lvl slog.Level
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		default:
			lvl = slog.LevelInfo
		}
		if debug {
			lvl = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: lvl,
		}

		// JSON in production, text for interactive use
		if os.Getenv("GO_ENV") == "production" && !debug {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}

		slog.SetDefault(logger)
	})
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info", false)
	}
	return logger
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}
