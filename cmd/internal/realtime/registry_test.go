package realtime

import (
	"testing"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

func TestSessionRegistry_RegisterUnregister(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())

	a1 := NewClient("alice", "Alice", "s-a1", 8)
	a2 := NewClient("alice", "Alice", "s-a2", 8)

	if got := reg.Register(a1); !got {
		t.Fatalf("first session: expected cameOnline=true")
	}
	if got := reg.Register(a2); got {
		t.Fatalf("second session: expected cameOnline=false")
	}
	if !reg.IsOnline("alice") {
		t.Fatalf("alice should be online")
	}

	if got := reg.Unregister(a1); got {
		t.Fatalf("one session remains: expected wentOffline=false")
	}
	if got := reg.Unregister(a2); !got {
		t.Fatalf("last session: expected wentOffline=true")
	}
	if reg.IsOnline("alice") {
		t.Fatalf("alice should be offline")
	}
}

func TestSessionRegistry_UnregisterUnknownSession(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())
	c := NewClient("bob", "Bob", "s-b1", 8)

	if got := reg.Unregister(c); got {
		t.Fatalf("unknown session: expected wentOffline=false")
	}
}

func TestSessionRegistry_OnlineSorted(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())
	reg.Register(NewClient("carol", "Carol", "s-c", 8))
	reg.Register(NewClient("alice", "Alice", "s-a", 8))
	reg.Register(NewClient("bob", "Bob", "s-b", 8))

	got := reg.Online()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("online=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("online=%v want=%v", got, want)
		}
	}
}

func TestSessionRegistry_SendToUser_AllSessions(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())

	a1 := NewClient("alice", "Alice", "s-a1", 8)
	a2 := NewClient("alice", "Alice", "s-a2", 8)
	reg.Register(a1)
	reg.Register(a2)

	env := mustEnvelope(v1.TypeError, v1.ErrorPayload{Code: "x"}, time.Now().UTC())

	if n := reg.SendToUser("alice", env); n != 2 {
		t.Fatalf("delivered=%d want=2", n)
	}
	if n := reg.SendToUser("nobody", env); n != 0 {
		t.Fatalf("delivered=%d want=0 for offline user", n)
	}

	recvType(t, a1, v1.TypeError)
	recvType(t, a2, v1.TypeError)
}

func TestSessionRegistry_UserViewing(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())

	a1 := NewClient("alice", "Alice", "s-a1", 8)
	a2 := NewClient("alice", "Alice", "s-a2", 8)
	reg.Register(a1)
	reg.Register(a2)

	if reg.UserViewing("alice", "c-1") {
		t.Fatalf("no session is viewing c-1 yet")
	}

	a2.SetViewing("c-1")
	if !reg.UserViewing("alice", "c-1") {
		t.Fatalf("a2 is viewing c-1")
	}

	a2.SetViewing("")
	if reg.UserViewing("alice", "c-1") {
		t.Fatalf("a2 left c-1")
	}
}
