package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := NewCoordinator(time.Millisecond).ExecuteWithRetry(context.Background(), func() error {
		calls++
		return nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := NewCoordinator(time.Millisecond).ExecuteWithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 5)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := NewCoordinator(time.Millisecond).ExecuteWithRetry(context.Background(), func() error {
		calls++
		return boom
	}, 3)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryBackoffDoubles(t *testing.T) {
	base := 20 * time.Millisecond
	start := time.Now()
	_ = NewCoordinator(base).ExecuteWithRetry(context.Background(), func() error {
		return errors.New("always")
	}, 3)
	elapsed := time.Since(start)

	// base + 2*base between the three attempts
	assert.GreaterOrEqual(t, elapsed, 3*base)
}

func TestExecuteWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- NewCoordinator(time.Hour).ExecuteWithRetry(ctx, func() error {
			calls++
			return errors.New("transient")
		}, 5)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancellation")
	}
}
