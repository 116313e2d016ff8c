package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
)

// Logger is the structured logger used throughout the bridge.
//
// It embeds slog.Logger, so the full slog API is available. Every record
// carries the service name and version so log lines from several bridge
// instances can be told apart when aggregated.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration.
//
// Format selects the slog handler (json or text), level filters records,
// and output picks stdout or stderr. Unrecognised values fall back to
// json, info, and stdout rather than failing; a bridge with a typo in its
// logging config should still log.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Build version stamped on every record
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "span-bridge"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel maps a config level string (debug, info, warn, error) to a
// slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
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

// With returns a derived Logger whose records all carry the given
// attributes. The bridge derives one logger per endpoint and per component
// so records can be filtered by origin.
//
// Parameters:
//   - args: Key-value pairs added to every record
//
// Returns:
//   - *Logger: New logger with the attributes attached
//
// Example:
//
//	sessionLogger := logger.With("endpoint", "a")
//	sessionLogger.Info("connected") // Includes endpoint=a
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns the logger used before the configuration is loaded,
// covering config-load failures themselves. JSON to stdout at info level,
// version "dev"; once the real config is read the caller rebuilds with New.
//
// Returns:
//   - *Logger: Early-startup logger
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
