// Package retry provides the backoff policy for transient sync failures.
// The policy is a pure function of attempt count: it holds no mutable state,
// never schedules anything itself, and is safe to call concurrently.
package retry

import (
	"math/rand"
	"time"
)

// Policy computes retry delays and the abandon threshold.
type Policy struct {
	Base           time.Duration
	Ceiling        time.Duration
	JitterFraction float64
	MaxAttempts    int
}

// DefaultPolicy returns the engine default backoff schedule.
func DefaultPolicy() Policy {
	return Policy{
		Base:           30 * time.Second,
		Ceiling:        time.Hour,
		JitterFraction: 0.2,
		MaxAttempts:    3,
	}
}

// NextDelay returns the wait before the attempt after attemptCount transient
// failures: min(base * 2^attemptCount, ceiling) * (1 ± jitterFraction).
func (p Policy) NextDelay(attemptCount int) time.Duration {
	minDelay, maxDelay := p.JitterBounds(attemptCount)
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
}

// JitterBounds returns the deterministic [min, max] envelope NextDelay draws
// from for a given attempt count.
func (p Policy) JitterBounds(attemptCount int) (time.Duration, time.Duration) {
	if attemptCount < 0 {
		attemptCount = 0
	}

	delay := p.Base
	// Shift with overflow guard; past the ceiling the exact value is moot.
	for i := 0; i < attemptCount; i++ {
		delay *= 2
		if delay >= p.Ceiling || delay < 0 {
			delay = p.Ceiling
			break
		}
	}
	if delay > p.Ceiling {
		delay = p.Ceiling
	}

	jitter := time.Duration(float64(delay) * p.JitterFraction)
	minDelay := delay - jitter
	if minDelay < 0 {
		minDelay = 0
	}
	return minDelay, delay + jitter
}

// ShouldAbandon reports whether the entry has exhausted its retry budget
// after attemptCount transient failures.
func (p Policy) ShouldAbandon(attemptCount int) bool {
	return attemptCount >= p.MaxAttempts
}
