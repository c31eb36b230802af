package ingest

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays for failed jobs. A job that has failed
// attempts times must wait Delay(attempts) after its last update before it
// can be claimed again.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// DefaultBackoff returns the standard schedule: 400ms after the first
// failure, doubling per attempt, capped at one minute.
func DefaultBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Max: 60 * time.Second}
}

// Delay returns the wait required after the given number of failures.
// Deterministic; jitter is applied only at eligibility checks.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// Past 30 doublings the shift would overflow; the cap won long before.
	if attempts > 30 {
		return b.Max
	}
	d := b.Base << uint(attempts)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Eligible reports whether a job with the given failure count, last touched
// at updatedAt, may be claimed at now. Fresh jobs are always eligible.
func (b Backoff) Eligible(attempts int, updatedAt, now time.Time) bool {
	if attempts <= 0 {
		return true
	}
	required := b.Delay(attempts)
	if b.Jitter > 0 {
		required += rand.N(b.Jitter)
	}
	return now.Sub(updatedAt) >= required
}
