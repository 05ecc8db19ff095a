package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/example/bank-ledger/internal/errs"
)

// Policy parameterises Retry. Delay before attempt k+1 is BaseDelay·Multiplier^(k−1), capped at
// MaxDelay when set.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy retries three times starting at 50ms and doubling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 2}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Delay returns the backoff after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	out := time.Duration(d)
	if p.MaxDelay > 0 && out > p.MaxDelay {
		out = p.MaxDelay
	}
	return out
}

// Retry runs fn until it succeeds, fails with an error errs.IsRetryable rejects, or MaxAttempts
// is reached. Exhaustion is reported as a terminal concurrency conflict wrapping the last error.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errs.IsRetryable(err) {
			return err
		}
		last = err
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return errs.Terminal(&errs.Error{
		Kind:    errs.KindConcurrencyConflict,
		Op:      "retry",
		Message: fmt.Sprintf("operation failed after %d attempts due to concurrent modifications", p.MaxAttempts),
		Err:     last,
	})
}
