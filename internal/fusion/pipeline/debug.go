package pipeline

import (
	"log"
	"sync"

	"github.com/banshee-data/depthfusion/internal/monitoring"
)

var (
	logMu       sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the pipeline
// package. Pass nil for any writer to disable that stream.
func SetLogWriters(w monitoring.LogWriters) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = monitoring.NewLogger("[pipeline] ", w.Ops)
	diagLogger = monitoring.NewLogger("[pipeline] ", w.Diag)
	traceLogger = monitoring.NewLogger("[pipeline] ", w.Trace)
}

func logTo(l **log.Logger, format string, args ...interface{}) {
	logMu.RLock()
	lg := *l
	logMu.RUnlock()
	if lg != nil {
		lg.Printf(format, args...)
	}
}

// opsf logs to the ops stream (actionable warnings, errors).
func opsf(format string, args ...interface{}) { logTo(&opsLogger, format, args...) }

// diagf logs to the diag stream (resets, key-frame activity).
func diagf(format string, args ...interface{}) { logTo(&diagLogger, format, args...) }

// tracef logs to the trace stream (per-pass timing).
func tracef(format string, args ...interface{}) { logTo(&traceLogger, format, args...) }
