// Package logging builds the structured logger shared by bertctl, the
// instrument engine and the drivers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBERT/internal/config"
)

// Logger wraps slog.Logger with the bertctl default fields.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the configured output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "discard":
		output = io.Discard
	default:
		output = os.Stderr
	}
	return NewWriter(cfg, version, output)
}

// NewWriter creates a Logger writing to w.
func NewWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "bertctl"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// ParseLevel converts a level name; anything unrecognised is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a Logger with additional default attributes.
//
//	mqttLog := logger.With("component", "mqtt")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With("component", name)
}

// Default is used before the configuration has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}
