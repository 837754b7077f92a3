package batch

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy configures Retry. The zero value runs the operation once.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration

	// Multiplier scales the delay after every failed attempt. Defaults to 2.
	Multiplier float64

	// MaxDelay caps the delay between attempts. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable reports whether a failed attempt may be retried. When nil
	// every error is retried.
	Retryable func(err error) bool

	// OnRetry is called before each wait with the number of the attempt that
	// just failed, its error and the delay about to be taken.
	OnRetry func(attempt int, err error, nextDelay time.Duration)
}

// DefaultRetryPolicy returns 3 attempts starting at one second, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) next(delay time.Duration) time.Duration {
	m := p.Multiplier
	if m <= 0 {
		m = 2
	}
	d := time.Duration(float64(delay) * m)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retry runs op until it succeeds or the policy's attempts are used up.
// The error of the final attempt is returned as is.
func Retry[T any](ctx context.Context, policy RetryPolicy, op Func[T]) (T, error) {
	v, _, err := RetryCount(ctx, policy, op)
	return v, err
}

// RetryCount is Retry that also reports how many attempts were made.
//
// The context is checked before the first attempt and during every wait. If
// it is cancelled mid-wait the last attempt's error is returned joined with
// ctx.Err().
func RetryCount[T any](ctx context.Context, policy RetryPolicy, op Func[T]) (T, int, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, 0, err
	}

	maxAttempts := policy.attempts()
	delay := policy.InitialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, attempt, nil
		}
		if attempt == maxAttempts {
			return zero, attempt, err
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, attempt, err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, delay)
		}
		if werr := wait(ctx, delay); werr != nil {
			return zero, attempt, errors.Join(err, werr)
		}
		delay = policy.next(delay)
	}

	// unreachable: the final iteration always returns
	return zero, maxAttempts, ErrRetryExhausted
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
