// Package log configures the process-wide structured logger used by the
// worker binaries. Components running on the execution thread receive their
// loggers through constructors instead of reaching for the default.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default logger at the given level ("debug", "info",
// "warn", "error", case-insensitive). Unknown levels fall back to info.
func Setup(logLevel string) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns a logger tagged with the component it belongs to, e.g.
// "record_consumer" or "checkpoint_coordinator".
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
