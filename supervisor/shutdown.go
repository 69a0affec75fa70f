// Package supervisor wires startup ordering and signal-driven teardown for
// the proxy, grounded on ofelia/core/shutdown.go's ShutdownManager and
// cli/daemon.go's boot/start/shutdown lifecycle, adapted from Docker job
// scheduling to this program's own "parse flags, bind sockets, start
// workers, teardown on signal" sequence.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/netresearch/tauproxy/logging"
)

// ShutdownHook is one named, priority-ordered teardown action. Lower
// priority values execute first; the daemon registers exporter → ingest
// server → job registry drain → consolidator.
type ShutdownHook struct {
	Name     string
	Priority int
	Hook     func(context.Context) error
}

// ErrSignalShutdown is returned by callers that want to distinguish a
// signal-driven shutdown from other ways a run can end, so the process can
// still exit nonzero the way a killed daemon is expected to.
var ErrSignalShutdown = fmt.Errorf("supervisor: shutdown triggered by signal")

// ShutdownManager runs registered hooks, in priority order, when a shutdown
// signal is received or Shutdown is called directly (e.g. by tests).
type ShutdownManager struct {
	timeout         time.Duration
	logger          logging.Logger
	mu              sync.Mutex
	hooks           []ShutdownHook
	shutdownChan    chan struct{}
	isShuttingDown  bool
	signalTriggered bool
}

// NewShutdownManager creates a manager with the given hook timeout. A
// non-positive timeout defaults to 30 seconds.
func NewShutdownManager(logger logging.Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		timeout:      timeout,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
}

// RegisterHook adds hook, keeping the hook list sorted by ascending
// priority.
func (sm *ShutdownManager) RegisterHook(hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.hooks = append(sm.hooks, hook)
	for i := len(sm.hooks) - 1; i > 0 && sm.hooks[i].Priority < sm.hooks[i-1].Priority; i-- {
		sm.hooks[i], sm.hooks[i-1] = sm.hooks[i-1], sm.hooks[i]
	}
}

// ListenForShutdown starts a goroutine that calls Shutdown on
// os.Interrupt/SIGTERM/SIGQUIT, a superset of the original's SIGINT-only
// handler.
func (sm *ShutdownManager) ListenForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		sm.logger.Warningf("supervisor: received %v, shutting down", sig)
		sm.mu.Lock()
		sm.signalTriggered = true
		sm.mu.Unlock()
		_ = sm.Shutdown()
	}()
}

// WasSignalTriggered reports whether the shutdown currently in progress (or
// already finished) was started by ListenForShutdown's signal handler, as
// opposed to a direct Shutdown call (e.g. from a test or admin command).
func (sm *ShutdownManager) WasSignalTriggered() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.signalTriggered
}

// ShutdownChan returns a channel closed the moment Shutdown begins, for
// components that want to cooperatively stop on their own (e.g. the
// consolidator's poll loop).
func (sm *ShutdownManager) ShutdownChan() <-chan struct{} {
	return sm.shutdownChan
}

// Shutdown runs every registered hook in ascending priority order: a
// priority starts only after every hook of a lower priority has returned,
// and hooks sharing a priority run concurrently. It returns once all hooks
// finish or the timeout elapses.
func (sm *ShutdownManager) Shutdown() error {
	sm.mu.Lock()
	if sm.isShuttingDown {
		sm.mu.Unlock()
		return fmt.Errorf("supervisor: shutdown already in progress")
	}
	sm.isShuttingDown = true
	hooks := append([]ShutdownHook(nil), sm.hooks...)
	sm.mu.Unlock()

	sm.logger.Noticef("supervisor: starting graceful shutdown (timeout %v)", sm.timeout)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	close(sm.shutdownChan)

	var wg sync.WaitGroup
	errs := make(chan error, len(hooks))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, h := range hooks {
			// A new priority starts only once every lower-priority hook returned.
			if i > 0 && h.Priority != hooks[i-1].Priority {
				wg.Wait()
			}
			wg.Add(1)
			go func(h ShutdownHook) {
				defer wg.Done()
				sm.logger.Debugf("supervisor: running shutdown hook %q (priority %d)", h.Name, h.Priority)
				if err := h.Hook(ctx); err != nil {
					sm.logger.Errorf("supervisor: shutdown hook %q failed: %v", h.Name, err)
					errs <- fmt.Errorf("hook %s: %w", h.Name, err)
				}
			}(h)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		sm.logger.Noticef("supervisor: graceful shutdown complete")
	case <-ctx.Done():
		sm.logger.Errorf("supervisor: shutdown timed out after %v", sm.timeout)
		return fmt.Errorf("supervisor: shutdown timed out")
	}

	close(errs)
	var n int
	for range errs {
		n++
	}
	if n > 0 {
		return fmt.Errorf("supervisor: shutdown completed with %d hook errors", n)
	}
	return nil
}

// IsShuttingDown reports whether Shutdown has been called.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.isShuttingDown
}
