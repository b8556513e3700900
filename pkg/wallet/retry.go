package wallet

import (
	"context"
	"time"
)

// RetryPolicy is a bounded polling/backoff policy shared by hash
// reconciliation, receipt waits and read-path retries. It is a plain
// value so the behavior is testable without network timing.
type RetryPolicy struct {
	// MaxAttempts is the number of tries before giving up
	MaxAttempts int

	// Interval is the delay after the first failed attempt
	Interval time.Duration

	// BackoffFactor multiplies the delay after every attempt; 1 keeps it flat
	BackoffFactor float64

	// MaxElapsed caps the total wall-clock budget; zero means unlimited
	MaxElapsed time.Duration
}

// DefaultRetryPolicy returns the confirmation-polling defaults: frequent
// early checks stretching out while a transaction waits to be mined.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   12,
		Interval:      5 * time.Second,
		BackoffFactor: 1.5,
		MaxElapsed:    2 * time.Minute,
	}
}

// ReadRetryPolicy returns the transparent retry defaults for idempotent
// READ calls: a small bounded count with short flat delays.
func ReadRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		Interval:      250 * time.Millisecond,
		BackoffFactor: 1,
	}
}

// Do runs op until it reports done, the attempt budget is spent, or ctx
// expires. op returns (done, err): done with a nil error is success, done
// with a non-nil error stops retrying and surfaces that error, and not
// done schedules another attempt. Budget exhaustion returns the last
// error from op; ctx expiry returns a TX_TIMEOUT so callers can tell a
// deadline from a genuine failure.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) (bool, error)) error {
	start := time.Now()
	delay := p.Interval
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		done, err := op(ctx)
		if done {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		if p.MaxElapsed > 0 && time.Since(start)+delay > p.MaxElapsed {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewWalletError(ErrCodeTxTimeout, "retry budget interrupted by caller deadline", ctx.Err(), "")
		case <-timer.C:
		}

		if p.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * p.BackoffFactor)
		}
	}

	return lastErr
}
