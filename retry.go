package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryStrategy produces a fresh backoff for one store operation. A factory
// is used because backoff values are stateful and must not be shared across
// operations.
type RetryStrategy func() backoff.BackOff

// DefaultRetryStrategy bounds conflict retries to a handful of attempts with
// exponential backoff. Conflicts clear quickly under light contention, so
// the first interval is short; under heavy contention the interval grows
// instead of hammering the registry.
func DefaultRetryStrategy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return backoff.WithMaxRetries(b, 2)
}

// ConstantRetryStrategy retries up to maxAttempts total attempts with a
// fixed delay between them.
func ConstantRetryStrategy(interval time.Duration, maxAttempts uint64) RetryStrategy {
	return func() backoff.BackOff {
		if maxAttempts == 0 {
			return &backoff.StopBackOff{}
		}
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxAttempts-1)
	}
}

// retryConflict invokes op, retrying only *VersionConflictError failures
// under the given strategy. Every other error propagates immediately so
// conflict handling never masks unrelated faults. A persistent conflict is
// surfaced once attempts are exhausted; re-deriving a fresh version is the
// producer's job, not this layer's.
func retryConflict(ctx context.Context, strategy backoff.BackOff, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var conflict *VersionConflictError
		if errors.As(err, &conflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(strategy, ctx))
}
