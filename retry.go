package sgmailer

import (
	"context"

	"github.com/sethvargo/go-retry"
)

// RetryManager handles retry logic for failed API calls.
type RetryManager struct {
	config RetryConfig
}

// NewRetryManager creates a new retry manager with the given configuration.
func NewRetryManager(config RetryConfig) *RetryManager {
	return &RetryManager{
		config: config,
	}
}

// Retry executes fn, retrying errors classified by IsRetryable with
// exponential backoff until MaxAttempts is reached or ctx is done.
// Other errors are returned immediately.
func (r *RetryManager) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.config.Enabled || r.config.MaxAttempts <= 1 {
		return fn(ctx)
	}

	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// backoff builds the delay sequence for one Retry call.
func (r *RetryManager) backoff() retry.Backoff {
	b := retry.NewExponential(r.config.InitialDelay)
	if r.config.MaxDelay > 0 {
		b = retry.WithCappedDuration(r.config.MaxDelay, b)
	}
	if r.config.Jitter {
		b = retry.WithJitterPercent(10, b)
	}
	return retry.WithMaxRetries(uint64(r.config.MaxAttempts-1), b)
}
