package main

import (
	"io"
	"log/slog"
	"os"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
)

// newConsoleLogger builds the daemon's own stderr logger (distinct from
// logger.Supervisor's rotating supervisor.log): --json selects
// slog.JSONHandler for machine-readable bootstrap/shutdown lines,
// otherwise a colorized text handler via go-colorable/go-isatty, the same
// pair cobra/gin already pull into the dependency graph for terminal
// color detection.
func newConsoleLogger(flags Flags) *slog.Logger {
	level := slog.LevelInfo
	switch resolveLogLevel(flags) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if !flags.JSON && !flags.NoColor && isatty.IsTerminal(os.Stderr.Fd()) {
		w = colorable.NewColorableStderr()
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if flags.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
