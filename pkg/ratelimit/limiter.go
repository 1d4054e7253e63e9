// Package ratelimit provides a sliding-window request limiter keyed by an
// arbitrary string such as a client IP or API token.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const minRetryAfter = 100 * time.Millisecond

// Limiter admits at most maxRequests per key inside a trailing window.
type Limiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	requests map[string][]time.Time
}

func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records a request for key when the window has room. remaining is the
// quota left after this request; retryAfter is set only when denied.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := prune(l.requests[key], cutoff)

	if len(timestamps) >= l.maxRequests {
		l.requests[key] = timestamps
		wait := timestamps[0].Add(l.window).Sub(now)
		return false, 0, max(wait, minRetryAfter)
	}

	timestamps = append(timestamps, now)
	l.requests[key] = timestamps
	return true, l.maxRequests - len(timestamps), 0
}

// Cleanup drops keys whose most recent request has left the window and
// returns how many were removed.
func (l *Limiter) Cleanup() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, timestamps := range l.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(l.requests, key)
			removed++
		}
	}

	return removed
}

// Keys reports the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return timestamps
	}

	return append(timestamps[:0], timestamps[i:]...)
}
