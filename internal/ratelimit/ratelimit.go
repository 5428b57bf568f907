// Package ratelimit implements a sliding-window rate limiter keyed by
// opaque strings. Key namespacing ("api:<ip>", "slack:<user>", ...) is a
// caller convention; the limiter does no parsing.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Error is returned or surfaced when a caller exceeds its window.
type Error struct {
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// Limiter counts events per key within a sliding window.
type Limiter struct {
	rate   int
	window time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter allowing rate events per window per key.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:    rate,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check records an event for key if the window has room. It returns whether
// the event was allowed and, when refused, the whole seconds to wait before
// the oldest event leaves the window (at least 1).
func (l *Limiter) Check(key string) (allowed bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := l.prune(key, now)

	if len(live) >= l.rate {
		wait := live[0].Add(l.window).Sub(now).Seconds()
		retry := int(math.Ceil(wait))
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}

	l.buckets[key] = append(live, now)
	return true, 0
}

// Remaining reports how many events key can still record without waiting.
// It does not mutate the bucket.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	count := 0
	for _, ts := range l.buckets[key] {
		if ts.After(cutoff) {
			count++
		}
	}
	if count >= l.rate {
		return 0
	}
	return l.rate - count
}

// Reset clears the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Cleanup prunes expired entries from every bucket and drops empty buckets,
// returning the number of entries removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for key := range l.buckets {
		before := len(l.buckets[key])
		live := l.prune(key, now)
		dropped += before - len(live)
		if len(live) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = live
		}
	}
	return dropped
}

// prune drops expired timestamps for key and returns the surviving slice.
// Caller holds l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	bucket := l.buckets[key]
	live := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	l.buckets[key] = live
	return live
}
