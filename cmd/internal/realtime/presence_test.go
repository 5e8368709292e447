package realtime

import (
	"testing"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

func TestPresence_SnapshotOnConnect(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)

	a := NewClient("alice", "Alice", "s-a1", 64)
	core.HandleConnect(a)

	env := recvType(t, a, v1.TypeOnlineUsers)
	if env.Type != "get_online_users" {
		t.Fatalf("snapshot wire name=%q want=%q", env.Type, "get_online_users")
	}
	p := decodePayload[v1.OnlineUsersPayload](t, env)
	if len(p.UserIDs) != 1 || p.UserIDs[0] != "alice" {
		t.Fatalf("snapshot=%v want=[alice]", p.UserIDs)
	}
}

func TestPresence_BroadcastOnFirstSessionOnly(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)

	a := connectSession(t, core, "alice", "Alice", "s-a1")

	// Bob's first session: alice sees a broadcast including bob.
	connectSession(t, core, "bob", "Bob", "s-b1")
	env := recvType(t, a, v1.TypeOnlineUsers)
	p := decodePayload[v1.OnlineUsersPayload](t, env)
	if len(p.UserIDs) != 2 {
		t.Fatalf("snapshot=%v want two users", p.UserIDs)
	}

	// Bob's second session: no presence change, no broadcast to alice.
	connectSession(t, core, "bob", "Bob", "s-b2")
	expectNoType(t, a, v1.TypeOnlineUsers, 200*time.Millisecond)
}

func TestPresence_OfflineOnLastDisconnect(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)

	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b1 := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a, v1.TypeOnlineUsers) // bob came online

	b2 := connectSession(t, core, "bob", "Bob", "s-b2")

	core.HandleDisconnect(b1)
	expectNoType(t, a, v1.TypeOnlineUsers, 200*time.Millisecond)

	core.HandleDisconnect(b2)
	env := recvType(t, a, v1.TypeOnlineUsers)
	p := decodePayload[v1.OnlineUsersPayload](t, env)
	if len(p.UserIDs) != 1 || p.UserIDs[0] != "alice" {
		t.Fatalf("snapshot=%v want=[alice]", p.UserIDs)
	}
}
