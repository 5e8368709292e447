package realtime

import (
	"sync"
	"testing"
	"time"
)

func TestTypingStore_StartRefreshStop(t *testing.T) {
	t.Parallel()

	ts := NewTypingStore(testLogger(), time.Minute, nil)

	if !ts.Start("c-1", "alice", "Alice") {
		t.Fatalf("first start: expected isNew=true")
	}
	if ts.Start("c-1", "alice", "Alice") {
		t.Fatalf("refresh: expected isNew=false")
	}

	active := ts.Active("c-1")
	if len(active) != 1 || active[0].UserID != "alice" {
		t.Fatalf("active=%v want alice", active)
	}

	if !ts.Stop("c-1", "alice") {
		t.Fatalf("stop: expected removed=true")
	}
	if ts.Stop("c-1", "alice") {
		t.Fatalf("second stop: expected removed=false (idempotent)")
	}
	if got := ts.Active("c-1"); len(got) != 0 {
		t.Fatalf("active=%v want empty", got)
	}
}

func TestTypingStore_ExpiresExactlyOnce(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		expired []string
	)
	ts := NewTypingStore(testLogger(), 30*time.Millisecond, func(convID, userID string) {
		mu.Lock()
		expired = append(expired, convID+"/"+userID)
		mu.Unlock()
	})

	ts.Start("c-1", "alice", "Alice")

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "c-1/alice" {
		t.Fatalf("expired=%v want exactly one c-1/alice", expired)
	}
	if got := ts.Active("c-1"); len(got) != 0 {
		t.Fatalf("active=%v want empty after expiry", got)
	}
}

func TestTypingStore_RefreshPostponesExpiry(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		expired int
	)
	ts := NewTypingStore(testLogger(), 80*time.Millisecond, func(string, string) {
		mu.Lock()
		expired++
		mu.Unlock()
	})

	ts.Start("c-1", "alice", "Alice")

	// Keep refreshing under the TTL; the indicator must stay alive.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		ts.Start("c-1", "alice", "Alice")
	}

	mu.Lock()
	got := expired
	mu.Unlock()
	if got != 0 {
		t.Fatalf("expired=%d during active refresh, want 0", got)
	}

	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	got = expired
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expired=%d after refreshes stopped, want 1", got)
	}
}

func TestTypingStore_StopCancelsExpiry(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		expired int
	)
	ts := NewTypingStore(testLogger(), 30*time.Millisecond, func(string, string) {
		mu.Lock()
		expired++
		mu.Unlock()
	})

	ts.Start("c-1", "alice", "Alice")
	ts.Stop("c-1", "alice")

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if expired != 0 {
		t.Fatalf("expired=%d after explicit stop, want 0", expired)
	}
}

func TestTypingStore_StopAllFor(t *testing.T) {
	t.Parallel()

	ts := NewTypingStore(testLogger(), time.Minute, nil)

	ts.Start("c-1", "alice", "Alice")
	ts.Start("c-2", "alice", "Alice")
	ts.Start("c-2", "bob", "Bob")

	convs := ts.StopAllFor("alice")
	if len(convs) != 2 || convs[0] != "c-1" || convs[1] != "c-2" {
		t.Fatalf("convs=%v want [c-1 c-2]", convs)
	}

	if got := ts.Active("c-1"); len(got) != 0 {
		t.Fatalf("c-1 active=%v want empty", got)
	}
	if got := ts.Active("c-2"); len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("c-2 active=%v want [bob]", got)
	}
}
