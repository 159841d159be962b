package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy values match the harness-wide polling budget.
const (
	DefaultMaxAttempts = 5
	DefaultDelay       = 7 * time.Second
	DefaultTimeout     = 7 * time.Second
)

// Policy bounds a retry loop: a fixed number of attempts with a fixed
// delay between them. Timeout caps a single attempt, so the total wait
// is at most MaxAttempts * (Delay + Timeout).
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

// DefaultPolicy returns the harness default retry budget.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay, Timeout: DefaultTimeout}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// Do runs fn until it returns nil or the attempt budget is exhausted.
// The delay is applied between attempts, not after the last one.
// Context cancellation stops the loop between attempts and is returned
// joined with the last attempt error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		last = err
		if attempt == p.MaxAttempts {
			break
		}
		t := time.NewTimer(p.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return errors.Join(ctx.Err(), last)
		}
	}
	return fmt.Errorf("retry budget exhausted after %d attempts: %w", p.MaxAttempts, last)
}
