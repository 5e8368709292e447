package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter over a fixed ring
// of event timestamps: an event is allowed when fewer than limit events
// happened within the window, which the ring answers by looking only at the
// slot it would overwrite.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	filled bool
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are
// invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted, and
// records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled {
		oldest := r.ring[r.next]
		if oldest.After(now.Add(-r.window)) {
			// The limit-th most recent event is still inside the window.
			return false
		}
	}

	r.ring[r.next] = now
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.filled = true
	}
	return true
}
