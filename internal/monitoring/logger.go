package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters holds the io.Writers for the three logging streams each
// fusion package exposes:
//   - Ops: actionable warnings, errors, lifecycle events
//   - Diag: day-to-day diagnostics and tuning context
//   - Trace: high-frequency per-frame telemetry
//
// A nil writer disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// WritersForLevel routes streams up to and including level to w.
// Levels are "ops", "diag" and "trace"; "off" disables everything.
func WritersForLevel(level string, w io.Writer) (LogWriters, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "off", "none":
		return LogWriters{}, nil
	case "ops", "":
		return LogWriters{Ops: w}, nil
	case "diag":
		return LogWriters{Ops: w, Diag: w}, nil
	case "trace":
		return LogWriters{Ops: w, Diag: w, Trace: w}, nil
	default:
		return LogWriters{}, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", level)
	}
}

// NewLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func NewLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}
