// Package logging configures the process-wide slog logger. Production runs
// emit JSON lines; local development can switch to a colorized format.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the log output style.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Setup installs the default logger. Unknown formats fall back to JSON, and
// an unknown level falls back to info.
func Setup(format, level string) {
	var handler slog.Handler
	switch format {
	case FormatPretty:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      parseLevel(level),
			TimeFormat: time.TimeOnly,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
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
