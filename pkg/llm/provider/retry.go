package provider

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// RetryPolicy controls HTTP-level retries inside a provider. It is separate
// from the stage retries a workflow applies on top.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy retries up to three times starting at one second
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	BaseDelay:    1 * time.Second,
	MaxDelay:     30 * time.Second,
	JitterFactor: 0.3,
}

// NoRetry disables provider-level retries
var NoRetry = RetryPolicy{}

// Backoff returns the delay before the given retry attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 31 {
		shift = 31
	}
	delay := time.Duration(1<<uint(shift)) * p.BaseDelay
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFactor > 0 {
		delay += time.Duration(float64(delay) * p.JitterFactor * (randFloat64()*2 - 1))
	}
	return delay
}

// do calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted.
func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff(attempt)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
	}
	return lastErr
}

// randFloat64 returns a random float64 in [0.0, 1.0)
func randFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}
