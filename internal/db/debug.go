package db

import (
	"log"
	"sync"

	"github.com/banshee-data/depthfusion/internal/monitoring"
)

var (
	logMu      sync.RWMutex
	opsLogger  *log.Logger
	diagLogger *log.Logger
)

// SetLogWriters configures the db package's log streams. The trace
// stream is unused.
func SetLogWriters(w monitoring.LogWriters) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = monitoring.NewLogger("[db] ", w.Ops)
	diagLogger = monitoring.NewLogger("[db] ", w.Diag)
}

func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
