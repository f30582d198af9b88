package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of transient backend failures.
type RetryPolicy struct {
	// MaxAttempts includes the first call. Values below 1 mean one attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// bounded gives up after MaxAttempts.
func (p RetryPolicy) bounded(ctx context.Context) backoff.BackOff {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(retries)), ctx)
}

// unbounded retries until ctx ends.
func (p RetryPolicy) unbounded(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(p.exponential(), ctx)
}

// retry runs fn under b. Non-transient errors stop immediately; all errors
// come back classified under op.
func retry[T any](ctx context.Context, c *config, op string, b backoff.BackOff, fn func(context.Context) (T, error)) (T, error) {
	v, err := backoff.RetryNotifyWithData(func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		err = wrap(op, err)
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b, func(err error, next time.Duration) {
		c.metrics.Retry(op)
		c.log.Debug().Err(err).Str("op", op).Dur("backoff", next).Msg("retrying")
	})
	return v, wrap(op, err)
}
