package enrich

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dvloznov/spend-enricher/internal/logger"
)

// Retry defaults: one retry after a fixed pause.
const (
	DefaultMaxAttempts = 2
	DefaultRetryDelay  = 2 * time.Second
)

// RetryPolicy decides how a failed submission is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transport failures once after two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Retryable:   IsRetryable,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, runs out
// of attempts, or ctx is done. The last error is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("Retrying request")
	}

	return backoff.RetryNotify(operation, b, notify)
}
