package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 5 * time.Second

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// blockingPass blocks the first pass until release is closed and reports
// each pass start on started.
func blockingPass(started chan<- struct{}, release <-chan struct{}) PassFunc {
	first := true
	return func(context.Context) {
		started <- struct{}{}
		if first {
			first = false
			<-release
		}
	}
}

func TestNotifiesDuringPassCoalesce(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	s := New(blockingPass(started, release))
	s.Start(context.Background())
	defer s.Close()

	s.Notify()
	waitFor(t, started, "first pass")

	for i := 0; i < 50; i++ {
		s.Notify()
	}
	close(release)
	waitFor(t, started, "coalesced pass")

	// Give a spurious third pass the chance to start.
	select {
	case <-started:
		t.Fatal("signals during a pass should coalesce into one further pass")
	case <-time.After(50 * time.Millisecond):
	}

	s.Close()
	if got := s.Passes(); got != 2 {
		t.Errorf("Passes() = %d, want 2", got)
	}
	if got := s.Notifies(); got != 51 {
		t.Errorf("Notifies() = %d, want 51", got)
	}
}

func TestStopTakesPriorityOverPendingSignal(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	s := New(blockingPass(started, release))
	s.Start(context.Background())

	s.Notify()
	waitFor(t, started, "first pass")

	s.Notify()
	s.Stop()
	close(release)
	s.Wait()

	if got := s.Passes(); got != 1 {
		t.Errorf("Passes() = %d, want 1", got)
	}
	select {
	case <-started:
		t.Error("pending signal should not run after stop")
	default:
	}
}

func TestCloseWaitsForRunningPass(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var finished bool
	var mu sync.Mutex
	s := New(func(context.Context) {
		started <- struct{}{}
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})
	s.Start(context.Background())
	s.Notify()
	waitFor(t, started, "pass")

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a pass was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	waitFor(t, closed, "Close")

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("pass did not run to completion")
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(func(context.Context) {})
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	waitFor(t, done, "loop exit")
}

func TestCloseWithoutStart(t *testing.T) {
	s := New(func(context.Context) {})
	s.Close()
	s.Close()
	s.Notify() // must not block
}

func TestPassesNeverOverlap(t *testing.T) {
	var mu sync.Mutex
	running, maxRunning := 0, 0
	s := New(func(context.Context) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
	})
	s.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Notify()
			}
		}()
	}
	wg.Wait()
	s.Close()

	if maxRunning != 1 {
		t.Errorf("max concurrent passes = %d, want 1", maxRunning)
	}
	if s.Passes() == 0 {
		t.Error("expected at least one pass")
	}
}
