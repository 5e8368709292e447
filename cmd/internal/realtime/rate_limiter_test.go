package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("event over limit should be blocked")
	}
}

func TestRateLimiter_RecoversAfterWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	now := time.Now()

	rl.Allow(now)
	rl.Allow(now)
	if rl.Allow(now.Add(500 * time.Millisecond)) {
		t.Fatalf("still inside window, should be blocked")
	}
	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("past window, should be allowed")
	}
}

func TestRateLimiter_SlidingNotFixedWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	now := time.Now()

	rl.Allow(now)
	rl.Allow(now.Add(900 * time.Millisecond))

	// 1.05s after the first event, only the first slot has expired.
	if !rl.Allow(now.Add(1050 * time.Millisecond)) {
		t.Fatalf("oldest slot expired, should be allowed")
	}
	// But the next would have to overwrite the 0.9s event, still live.
	if rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("second slot still inside window, should be blocked")
	}
}
