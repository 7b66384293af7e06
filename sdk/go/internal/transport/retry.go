// Package transport provides the HTTP transport for delivering event batches
// to the activity tracking server, with retry and exponential backoff.
package transport

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy defines how retries are scheduled after transient failures.
type RetryStrategy interface {
	// NextDelay returns the delay before the next retry attempt.
	// Returns 0 if no more retries should be attempted.
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of retry attempts.
	MaxAttempts() int
}

// ExponentialBackoff implements RetryStrategy with exponential delays,
// a maximum delay cap, and random jitter to prevent thundering herd.
type ExponentialBackoff struct {
	// BaseDelay is the initial delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay is the upper bound on retry delay.
	MaxDelay time.Duration

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// Jitter is the proportion of randomness applied to the delay (0.0 to 1.0).
	// A jitter of 0.2 means the delay varies by +/- 20%.
	Jitter float64
}

// NextDelay returns the delay for the given attempt number (0-indexed).
// Returns 0 when attempt >= MaxRetries, signaling no more retries.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt >= e.MaxRetries {
		return 0
	}

	// BaseDelay * 2^attempt, capped at MaxDelay.
	delay := float64(e.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}

	if e.Jitter > 0 {
		jitterRange := delay * e.Jitter
		//nolint:gosec // math/rand is fine for jitter; no security requirement
		delay += jitterRange * (rand.Float64()*2 - 1)
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// MaxAttempts returns the configured maximum number of retry attempts.
func (e *ExponentialBackoff) MaxAttempts() int {
	return e.MaxRetries
}

// DefaultRetry is the default retry strategy for embedded collectors:
// up to 3 retries with backoff from 2s to 30s and 20% jitter, matching
// the default tracker configuration.
var DefaultRetry = &ExponentialBackoff{
	BaseDelay:  2 * time.Second,
	MaxDelay:   30 * time.Second,
	MaxRetries: 3,
	Jitter:     0.2,
}
