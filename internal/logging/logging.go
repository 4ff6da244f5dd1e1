// Package logging builds the service's structured logger: log/slog with
// a JSON handler, extended with a "trace" level below slog.LevelDebug
// to satisfy the LOG_LEVEL enum.
package logging

import (
	"log/slog"
	"os"
)

// LevelTrace sits below slog.LevelDebug for the service's most verbose
// diagnostic output (per-frame decode steps, dictionary lookups).
const LevelTrace = slog.LevelDebug - 4

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

// New builds a JSON slog.Logger at the given LOG_LEVEL value
// (trace|debug|info|warn|error). Unrecognized values fall back to info.
func New(logLevel string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFromString(logLevel),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			level, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			if name, ok := levelNames[level]; ok {
				a.Value = slog.StringValue(name)
			}
			return a
		},
	})
	return slog.New(handler)
}

func levelFromString(logLevel string) slog.Level {
	switch logLevel {
	case "trace":
		return LevelTrace
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
