package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "miio-bridge"

// Logger wraps slog.Logger with bridge-specific defaults.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr or file)
//
// A file output that cannot be opened falls back to stderr and the failure
// is logged as the first entry.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	output, openErr := openOutput(cfg)
	logger := NewWithWriter(cfg, version, output)
	if openErr != nil {
		logger.Warn("log file unavailable, using stderr", "path", cfg.File.Path, "error", openErr)
	}
	return logger
}

// NewWithWriter creates a Logger that writes to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// openOutput resolves the configured destination.
func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		if cfg.File.Path == "" {
			return os.Stderr, fmt.Errorf("logging.file.path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o750); err != nil {
			return os.Stderr, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stderr, fmt.Errorf("opening log file: %w", err)
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	deviceLogger := logger.With("component", "miio", "device", "lamp-living")
//	deviceLogger.Info("identified") // Includes component and device
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
