// ABOUTME: Tests for the registration status checker loop
// ABOUTME: Verifies periodic expiry calls and clean shutdown

package assistant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeExpirer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeExpirer) ExpireAssistantRegistrations(_ context.Context, _ time.Time) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}

func TestStatusChecker_RunsPeriodically(t *testing.T) {
	expirer := &fakeExpirer{}
	checker := NewStatusChecker(expirer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return expirer.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestStatusChecker_ContinuesAfterError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("db locked")}
	checker := NewStatusChecker(expirer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go checker.Run(ctx)

	assert.Eventually(t, func() bool {
		return expirer.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}
