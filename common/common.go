// Package common provides shared service plumbing: logger setup and
// version information.
package common

import (
	"log/slog"
	"os"
)

// PackageName identifies this service in metrics and logs.
const PackageName = "skipd"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process logger.
type LoggingOpts struct {
	// Debug enables debug-level messages.
	Debug bool

	// JSON switches to the JSON handler.
	JSON bool

	// Service is added as a "service" attribute to all messages.
	Service string

	// Version is added as a "version" attribute to all messages.
	Version string
}

// SetupLogger creates the process-wide slog logger.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
