// Package logger sets up the process wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config describes the process logger.
type Config struct {
	// Level is debug, info, warn or error. Anything else means info.
	Level string

	// Format is json or text. Empty means text.
	Format string

	// Output defaults to stdout.
	Output io.Writer

	// Service and Environment are attached to every record when set.
	Service     string
	Environment string

	// AddSource adds the file and line of the call site.
	AddSource bool
}

// ParseLevel parses a level name, case insensitively. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a logger from cfg.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, FormatJSON) {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	log := slog.New(handler)
	if cfg.Service != "" {
		log = log.With(slog.String("service", cfg.Service))
	}
	if cfg.Environment != "" {
		log = log.With(slog.String("env", cfg.Environment))
	}
	return log
}

// Setup builds a logger from cfg and installs it as slog's default.
func Setup(cfg Config) *slog.Logger {
	log := New(cfg)
	slog.SetDefault(log)
	return log
}
