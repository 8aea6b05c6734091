// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/scikido/meter/internal/platform/correlation"
)

// InitLogger configures the global slog logger with the given level and
// format. Format is "json" or "text"; unknown levels fall back to info.
// The handler is correlation-aware: log calls made with a context carrying
// a correlation ID emit it automatically.
func InitLogger(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(correlation.NewHandler(handler)))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
