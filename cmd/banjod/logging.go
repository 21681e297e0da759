package main

import (
	"log/slog"
	"os"
)

// newLogger builds the daemon's root *slog.Logger: a text handler when
// stderr is a terminal, a JSON handler otherwise (piped into a log
// collector). Handed to the bridge through StartOpts.Logger and to the
// permission socket through SetLogger; never stored in a package global.
func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isTerminal(os.Stderr) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
