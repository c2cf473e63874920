package scheduler

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot buffer holding the latest published value.
// Publishing over an unconsumed value replaces it and counts a drop.
type Mailbox[T any] struct {
	mu      sync.Mutex
	value   T
	full    bool
	dropped atomic.Uint64
}

// Put stores v, replacing any unconsumed value. It reports whether a value
// was dropped.
func (m *Mailbox[T]) Put(v T) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		m.dropped.Add(1)
		dropped = true
	}
	m.value = v
	m.full = true
	return dropped
}

// Take removes and returns the latest value. ok is false when the
// mailbox is empty.
func (m *Mailbox[T]) Take() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return v, false
	}
	v = m.value
	var zero T
	m.value = zero
	m.full = false
	return v, true
}

// Dropped returns how many values were overwritten before being taken.
func (m *Mailbox[T]) Dropped() uint64 { return m.dropped.Load() }
