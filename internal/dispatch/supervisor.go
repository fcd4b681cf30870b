// ABOUTME: Lifecycle supervisor owning the stop flag and all background tasks
// ABOUTME: Tracks spawned goroutines and drains them deterministically at shutdown

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Supervisor coordinates process-wide shutdown for the fanout subsystem. It
// owns the set-once stop flag and tracks every detached background task:
// user-ping fanouts, assistant forwarders, and periodic maintenance loops.
//
// Tasks receive a context derived from the supervisor's base context and must
// return when it is cancelled. Only Shutdown cancels tasks, and only once.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders task admission against the stop transition so wg.Add never
	// races wg.Wait on a drained counter.
	mu      sync.Mutex
	stopped atomic.Bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor. Pass nil logger for the default.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "supervisor"),
	}
}

// Stopping reports whether shutdown has begun. The flag is monotonic: once
// set it is never cleared.
func (s *Supervisor) Stopping() bool {
	return s.stopped.Load()
}

// Context returns the base context cancelled at shutdown. Loops that block
// outside Go (stream handlers) select on it to bound their exit latency.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Go runs fn as a tracked background task. The task deregisters itself on
// return. After shutdown has begun new tasks are refused.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		s.logger.Warn("refusing new task during shutdown", "task", name)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
		s.logger.Debug("task finished", "task", name)
	}()
}

// SignalStop sets the stop flag and cancels every tracked task without
// waiting for them. Loops polling Stopping observe the flag within one poll
// cycle. Safe to call more than once.
func (s *Supervisor) SignalStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("stopping background tasks")
	s.cancel()
}

// Shutdown signals stop and waits for every tracked task to settle or for
// ctx to expire. Task loops treat the cancellation as the expected unwind
// signal; anything else they log themselves.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.SignalStop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all background tasks stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown grace period elapsed with tasks still running")
		return ctx.Err()
	}
}
