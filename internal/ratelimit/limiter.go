package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimited is returned when a resource's quota for the current window is
// exhausted. Callers treat it as transient; the next window clears it.
var ErrLimited = errors.New("rate limited")

// UsageStore persists usage counters.
type UsageStore interface {
	IncrementUsage(userID, resource string, windowStart time.Time, limit int) (bool, error)
}

// Limiter enforces fixed-window per-user quotas. Windows are whole UTC
// minutes, so a burst can span at most two windows; the counter lives in the
// store, which makes the check-and-increment atomic across processes.
type Limiter struct {
	store  UsageStore
	limits map[string]int
	now    func() time.Time
}

// New creates a Limiter with per-resource per-minute limits. Resources
// missing from limits are unlimited.
func New(store UsageStore, limits map[string]int) *Limiter {
	l := &Limiter{
		store:  store,
		limits: make(map[string]int, len(limits)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	return l
}

// NewWithClock is New with an injectable clock, for tests that need to
// cross window boundaries.
func NewWithClock(store UsageStore, limits map[string]int, now func() time.Time) *Limiter {
	l := New(store, limits)
	l.now = now
	return l
}

// Allow consumes one unit of the resource's quota for the current minute,
// returning ErrLimited when the window is full.
func (l *Limiter) Allow(userID, resource string) error {
	limit, ok := l.limits[resource]
	if !ok {
		return nil
	}
	return l.AllowLimit(userID, resource, limit)
}

// AllowLimit is Allow with an explicit limit, for callers that resolve
// per-user overrides themselves.
func (l *Limiter) AllowLimit(userID, resource string, limit int) error {
	window := l.now().UTC().Truncate(time.Minute)
	ok, err := l.store.IncrementUsage(userID, resource, window, limit)
	if err != nil {
		return fmt.Errorf("checking %s quota: %w", resource, err)
	}
	if !ok {
		return fmt.Errorf("%s quota of %d/min reached: %w", resource, limit, ErrLimited)
	}
	return nil
}
