package jobqueue

import "time"

// BackoffKind selects how the delay between retries of a failed job grows.
type BackoffKind string

const (
	// BackoffExponential doubles the delay with each attempt:
	// base * 2^(attempt-1).
	BackoffExponential BackoffKind = "exponential"

	// BackoffFixed waits the base delay before every retry.
	BackoffFixed BackoffKind = "fixed"
)

// BackoffPolicy is the retry delay policy for a queue. It's consulted after
// a failed attempt to decide when the job becomes eligible again.
type BackoffPolicy struct {
	// Kind is the delay growth strategy.
	Kind BackoffKind

	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
}

// Delay returns the wait before the retry following the given failed
// attempt. Attempts are 1-indexed, matching JobRow.Attempt at failure time.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch p.Kind {
	case BackoffFixed:
		return p.BaseDelay
	case BackoffExponential:
		// Shifting far enough would overflow; no real queue configures
		// anywhere near 62 attempts, but don't return garbage if one does.
		if attempt > 62 {
			return maxBackoff
		}
		delay := p.BaseDelay << (attempt - 1)
		if delay <= 0 || delay > maxBackoff {
			return maxBackoff
		}
		return delay
	default:
		return p.BaseDelay
	}
}

const maxBackoff = 24 * time.Hour
