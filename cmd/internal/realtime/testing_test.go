package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recvType drains c.Send until an envelope of wantType arrives.
func recvType(t *testing.T, c *Client, wantType string) v1.Envelope {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.Send:
			if env.Type == wantType {
				return env
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q on session %s", wantType, c.SessionID)
			return v1.Envelope{}
		}
	}
}

// expectNoType asserts no envelope of forbidden type arrives within wait.
func expectNoType(t *testing.T, c *Client, forbidden string, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case env := <-c.Send:
			if env.Type == forbidden {
				t.Fatalf("unexpected %q on session %s", forbidden, c.SessionID)
			}
		case <-deadline:
			return
		}
	}
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("unmarshal %s payload: %v", env.Type, err)
	}
	return out
}

// newTestCore wires a Core on in-memory stores with the given conversations.
func newTestCore(t *testing.T, cfg CoreConfig, conversations map[string][]string) (*Core, *InMemoryMessageStore, *InMemoryNotificationStore) {
	t.Helper()

	members := NewInMemoryMembershipStore()
	for id, users := range conversations {
		members.AddConversation(id, users...)
	}

	messages := NewInMemoryMessageStore()
	notifications := NewInMemoryNotificationStore()

	return NewCore(testLogger(), members, messages, notifications, cfg), messages, notifications
}

func connectSession(t *testing.T, core *Core, userID, name, sessionID string) *Client {
	t.Helper()

	c := NewClient(userID, name, sessionID, 64)
	core.HandleConnect(c)
	// Every connect delivers a direct presence snapshot.
	recvType(t, c, v1.TypeOnlineUsers)
	return c
}
