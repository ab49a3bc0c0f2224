package engine

import (
	"time"

	"github.com/dukex/autoflow/pkg/actions"
)

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy decides how often a failed action is re-invoked and how long to wait in between.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// WithMaxAttempts overrides the attempt limit when n is positive.
func (p RetryPolicy) WithMaxAttempts(n int) RetryPolicy {
	if n > 0 {
		p.MaxAttempts = n
	}

	return p
}

// Attempts is the attempt limit, at least one.
func (p RetryPolicy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// Delay is the wait before retry number n (zero based): BaseDelay * 2^n, capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}

	delay := p.BaseDelay

	for range max(n, 0) {
		delay *= 2

		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// ShouldRetry reports whether attempt (one based) may be followed by another.
// Only retryable action types are retried and permanent errors never are.
func (p RetryPolicy) ShouldRetry(attempt int, retryable bool, err error) bool {
	if err == nil || !retryable || actions.IsPermanent(err) {
		return false
	}

	return attempt < p.Attempts()
}
