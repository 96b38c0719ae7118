package godcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrateRetriesReturnsFirstSuccess(t *testing.T) {
	attempts := 0
	res, err := OrchestrateRetries(context.Background(), RetryOrchestratorOptions{
		MaxAttempts: 5,
		Backoff:     FixedBackoff(time.Millisecond),
	}, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, 3, attempts)
}

func TestOrchestrateRetriesBoundsAttempts(t *testing.T) {
	expectedErr := errors.New("always fails")

	attempts := 0
	var retryHookCalls []uint32
	_, err := OrchestrateRetries(context.Background(), RetryOrchestratorOptions{
		MaxAttempts: 2,
		Backoff:     FixedBackoff(time.Millisecond),
		OnRetry: func(retryAttempt uint32, cause error, delay time.Duration) {
			assert.ErrorIs(t, cause, expectedErr)
			assert.Equal(t, time.Millisecond, delay)
			retryHookCalls = append(retryHookCalls, retryAttempt)
		},
	}, func() (int, error) {
		attempts++
		return 0, expectedErr
	})
	require.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []uint32{0, 1}, retryHookCalls)
}

func TestOrchestrateRetriesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	expectedErr := errors.New("always fails")

	attempts := 0
	_, err := OrchestrateRetries(ctx, RetryOrchestratorOptions{
		MaxAttempts: 100,
		Backoff:     FixedBackoff(time.Hour),
	}, func() (int, error) {
		attempts++
		cancel()
		return 0, expectedErr
	})
	require.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, attempts)
}

func TestExponentialBackoffIsClamped(t *testing.T) {
	calc := ExponentialBackoff(10*time.Millisecond, 500*time.Millisecond, 2)

	assert.Equal(t, 10*time.Millisecond, calc(0))
	assert.Equal(t, 20*time.Millisecond, calc(1))
	assert.Equal(t, 40*time.Millisecond, calc(2))
	assert.Equal(t, 500*time.Millisecond, calc(10))
	assert.Equal(t, 500*time.Millisecond, calc(100))
}
