package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/minerwatch/minerwatch-core/internal/infrastructure/config"
)

// Logger is slog with the service's default fields attached. The
// poller, mqtt, and history packages each declare the small logging
// interface they need; embedding *slog.Logger lets this type satisfy
// all of them through method promotion.
type Logger struct {
	*slog.Logger
}

// New builds the service logger from the logging section of
// config.yaml. Every record carries service and version attributes so
// aggregated logs from several sites stay attributable.
//
// Format is json unless "text" is requested (text reads better when
// tailing a single rig's poll cycle by hand). Output is stdout unless
// "stderr" is requested.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "minerwatch"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps a config string to a slog level. Unrecognised
// values fall back to info rather than failing startup.
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

// With returns a Logger carrying extra default attributes.
//
//	pollLogger := logger.With("component", "poller")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger for the window before config.yaml
// is loaded: JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
