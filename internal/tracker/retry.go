package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of transient remote errors.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) newBackOff() *retryAfterBackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	// Attempts are capped by count, not elapsed time; the caller's context
	// carries the deadline.
	eb.MaxElapsedTime = 0
	return &retryAfterBackOff{BackOff: eb, max: p.MaxInterval}
}

// retryAfterBackOff stretches the next delay to honor a server Retry-After.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.hint > d {
		d = b.hint
		if b.max > 0 && d > b.max {
			d = b.max
		}
	}
	b.hint = 0
	return d
}

// Retry runs op until it succeeds, returns a non-transient error, the
// attempt budget is spent, or ctx is done. notify (optional) is called
// before each wait.
func Retry(ctx context.Context, policy RetryPolicy, op func() error, notify func(err error, wait time.Duration)) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	ra := policy.newBackOff()
	b := backoff.WithContext(backoff.WithMaxRetries(ra, uint64(attempts-1)), ctx)

	operation := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if KindOf(err) != KindTransient {
			return backoff.Permanent(err)
		}
		var re *RemoteError
		if errors.As(err, &re) && re.RetryAfter > 0 {
			ra.hint = re.RetryAfter
		}
		return err
	}
	return backoff.RetryNotify(operation, b, notify)
}
