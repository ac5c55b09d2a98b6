package logger

import (
	"io"
	"log/slog"
	"strings"

	"consentvault/internal/platform/config"
)

// New builds a structured logger from configuration and installs it as the
// slog default. "json" is the production format; "text" adds source locations
// for local runs.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	text := strings.EqualFold(cfg.Format, "text")
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: text,
	}

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Pseudonym shortens a pseudonym for log lines so full values stay out of logs.
func Pseudonym(p string) string {
	const keep = 12
	if len(p) <= keep {
		return p
	}
	return p[:keep] + "…"
}
