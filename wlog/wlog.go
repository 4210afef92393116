// Package wlog wires this module's components to a single logging
// convention: log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp:
// true, Prefix: ...}).
package wlog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New constructs a logger with the given prefix, writing to os.Stderr.
func New(prefix string) *log.Logger {
	return NewWithWriter(os.Stderr, prefix)
}

// NewWithWriter constructs a logger with the given prefix and writer, for
// tests that want to capture or silence output.
func NewWithWriter(w io.Writer, prefix string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
}

// ParseLevel parses a level name ("debug", "info", "warn", "error") into a
// log.Level, defaulting to log.InfoLevel on an unrecognized name.
func ParseLevel(name string) log.Level {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
