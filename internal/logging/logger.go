package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide JSON logger. slog keeps the standard library
// feel while still emitting structured records any backend can ingest.
func New(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

// Component returns a child logger tagged with the owning component, so ride
// lifecycle logs can be filtered from HTTP noise.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

func parseLevel(level string) slog.Leveler {
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
