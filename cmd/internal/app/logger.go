package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the process logger and installs it as slog's default.
// format "pretty" selects the human-readable handler; anything else is JSON.
func NewLogger(cfg Config) *slog.Logger {
	log := slog.New(newLogHandler(os.Stdout, cfg))
	slog.SetDefault(log)
	return log
}

func newLogHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.LogLevel),
		AddSource: true,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "pretty") {
		return newPrettyHandler(w, opts, cfg.LogColor)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLogLevel(level string) slog.Level {
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
