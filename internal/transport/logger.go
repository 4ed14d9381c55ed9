package transport

import (
	"io"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// newHCLogger adapts logger for the retrying client, which speaks hclog.
// Records are written through a standard log.Logger backed by logger's
// handler, so they share the application's output.
func newHCLogger(logger *slog.Logger, verbose bool) hclog.Logger {
	if logger == nil {
		return newNoOpHCLogger()
	}

	level := hclog.Warn
	if verbose {
		level = hclog.Debug
	}

	stdLogger := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)

	return hclog.New(&hclog.LoggerOptions{
		Name:   "http",
		Level:  level,
		Output: stdLogger.Writer(),
	})
}

// newNoOpHCLogger creates a no-op hclog.Logger.
func newNoOpHCLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "http",
		Level:  hclog.Off,
		Output: io.Discard,
	})
}
