package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/tauproxy/logging"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return &logging.LogrusAdapter{Logger: l}
}

func TestHooksRunInPriorityOrder(t *testing.T) {
	sm := NewShutdownManager(testLogger(), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	sm.RegisterHook(ShutdownHook{Name: "third", Priority: 30, Hook: record("third")})
	sm.RegisterHook(ShutdownHook{Name: "first", Priority: 10, Hook: record("first")})
	sm.RegisterHook(ShutdownHook{Name: "second", Priority: 20, Hook: record("second")})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestShutdownIsIdempotent(t *testing.T) {
	sm := NewShutdownManager(testLogger(), time.Second)
	require.NoError(t, sm.Shutdown())
	assert.Error(t, sm.Shutdown())
}

func TestShutdownCollectsHookErrors(t *testing.T) {
	sm := NewShutdownManager(testLogger(), time.Second)
	sm.RegisterHook(ShutdownHook{
		Name: "failing", Priority: 10,
		Hook: func(context.Context) error { return errors.New("boom") },
	})
	assert.Error(t, sm.Shutdown())
}

func TestShutdownTimesOutOnSlowHook(t *testing.T) {
	sm := NewShutdownManager(testLogger(), 10*time.Millisecond)
	sm.RegisterHook(ShutdownHook{
		Name: "slow", Priority: 10,
		Hook: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.Error(t, sm.Shutdown())
}

func TestShutdownChanClosesWhenShutdownBegins(t *testing.T) {
	sm := NewShutdownManager(testLogger(), time.Second)
	done := make(chan struct{})
	go func() {
		<-sm.ShutdownChan()
		close(done)
	}()

	go func() { _ = sm.Shutdown() }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ShutdownChan was never closed")
	}
}

func TestIsShuttingDownReflectsState(t *testing.T) {
	sm := NewShutdownManager(testLogger(), time.Second)
	assert.False(t, sm.IsShuttingDown())
	require.NoError(t, sm.Shutdown())
	assert.True(t, sm.IsShuttingDown())
}

func TestNewShutdownManagerDefaultsNonPositiveTimeout(t *testing.T) {
	sm := NewShutdownManager(testLogger(), 0)
	assert.Equal(t, 30*time.Second, sm.timeout)
}
