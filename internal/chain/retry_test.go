package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyRetriesTransientErrors(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := policy.do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("read: %w", io.ErrUnexpectedEOF)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, Backoff: time.Millisecond}
	permanent := errors.New("execution reverted")
	calls := 0
	err := policy.do(context.Background(), func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRetryPolicyGivesUpAfterAttempts(t *testing.T) {
	policy := RetryPolicy{Attempts: 2, Backoff: time.Millisecond}
	calls := 0
	err := policy.do(context.Background(), func() error {
		calls++
		return errors.New("429 Too Many Requests")
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{Attempts: 3, Backoff: time.Hour}
	err := policy.do(ctx, func() error { return io.EOF })
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	require.False(t, IsTransient(nil))
	require.False(t, IsTransient(context.Canceled))
	require.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	require.False(t, IsTransient(errors.New("invalid argument")))
}
