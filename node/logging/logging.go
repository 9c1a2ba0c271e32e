package logging

import (
	"io"
	"log/slog"
	"os"
)

type Config struct {
	Level string `json:"level"` // trace, debug, info, warn, error
	JSON  bool   `json:"json"`  // true for K8s, false for local dev
}

func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs the logger as the process default.
func Setup(cfg Config) {
	slog.SetDefault(New(cfg, os.Stdout))
}
