// Package scheduler runs a processing pass on a dedicated goroutine each
// time new input is signalled.
//
// Ready signals are level-triggered and coalesce: any number of Notify
// calls while a pass runs result in exactly one further pass. Passes never
// overlap. Stop takes priority over a pending signal and is observed only
// between passes; a running pass is never interrupted.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// PassFunc is one processing pass.
type PassFunc func(ctx context.Context)

// Scheduler owns the processing goroutine.
type Scheduler struct {
	pass  PassFunc
	ready chan struct{}
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	passes   atomic.Uint64
	notifies atomic.Uint64
}

// New creates a scheduler that runs pass on every wake-up.
func New(pass PassFunc) *Scheduler {
	return &Scheduler{
		pass:  pass,
		ready: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Notify raises the ready flag. It never blocks; if the flag is already
// raised the call is absorbed.
func (s *Scheduler) Notify() {
	s.notifies.Add(1)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Start launches the processing goroutine. Calling it more than once has
// no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run(ctx)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		if s.stopping(ctx) {
			return
		}
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.ready:
			// Both may have fired; shutdown wins.
			if s.stopping(ctx) {
				return
			}
			s.pass(ctx)
			s.passes.Add(1)
		}
	}
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Stop raises the shutdown flag without waiting.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until the processing goroutine has exited. It returns
// immediately if Start was never called.
func (s *Scheduler) Wait() {
	if !s.started.Load() {
		return
	}
	<-s.done
}

// Close stops the scheduler and waits for any running pass to finish.
func (s *Scheduler) Close() {
	s.Stop()
	s.Wait()
}

// Passes returns the number of completed passes.
func (s *Scheduler) Passes() uint64 { return s.passes.Load() }

// Notifies returns the number of Notify calls.
func (s *Scheduler) Notifies() uint64 { return s.notifies.Load() }
