// internal/logging/logging.go

// Package logging configures the process-wide slog logger. Components take
// a *slog.Logger at construction and derive child loggers with With; this
// package only decides the handler, destination and level once.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the shared logger instance. It defaults to discarding output
// until Initialize is called, so library code can log unconditionally.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Initialize sets up the logger. Debug can also be forced through the
// SSHBRIDGE_DEBUG environment variable, mirroring how subprocesses
// inherit the setting.
func Initialize(debug bool) {
	if os.Getenv("SSHBRIDGE_DEBUG") == "1" {
		debug = true
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(Logger)
}
