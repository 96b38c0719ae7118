package godcp

import (
	"context"
	"time"
)

// BackoffCalculator returns the delay to wait before the given retry
// attempt (zero-based).
type BackoffCalculator func(retryAttempt uint32) time.Duration

func FixedBackoff(delay time.Duration) BackoffCalculator {
	return func(retryAttempt uint32) time.Duration {
		return delay
	}
}

func ExponentialBackoff(min, max time.Duration, backoffFactor float64) BackoffCalculator {
	var maxBackoffCoefficient uint32
	if backoffFactor > 0 {
		maxBackoffCoefficient = 32
	}

	return func(retryAttempt uint32) time.Duration {
		if retryAttempt > maxBackoffCoefficient {
			retryAttempt = maxBackoffCoefficient
		}

		backoff := min
		for i := uint32(0); i < retryAttempt; i++ {
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff >= max {
				return max
			}
		}

		if backoff > max {
			backoff = max
		}
		return backoff
	}
}

// RetryOrchestratorOptions bounds a retry loop: up to MaxAttempts
// re-invocations, each preceded by a Backoff delay and an OnRetry
// notification.  A zero MaxAttempts disables retries entirely.
type RetryOrchestratorOptions struct {
	MaxAttempts uint32
	Backoff     BackoffCalculator
	OnRetry     func(retryAttempt uint32, cause error, delay time.Duration)
}

// OrchestrateRetries runs fn, retrying failures within the configured
// bounds.  The context is observed during backoff sleeps so a stopped
// component terminates without further attempts.
func OrchestrateRetries[RespT any](
	ctx context.Context,
	opts RetryOrchestratorOptions,
	fn func() (RespT, error),
) (RespT, error) {
	backoff := opts.Backoff
	if backoff == nil {
		backoff = FixedBackoff(0)
	}

	var retryAttempt uint32
	for {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		if retryAttempt >= opts.MaxAttempts {
			return res, err
		}

		delay := backoff(retryAttempt)
		if opts.OnRetry != nil {
			opts.OnRetry(retryAttempt, err, delay)
		}
		retryAttempt++

		if sleepErr := contextSleep(ctx, delay); sleepErr != nil {
			return res, err
		}
	}
}
