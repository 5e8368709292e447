package realtime

import (
	"sync"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Client represents one authenticated websocket session for a user. A user
// may own several clients at once (tabs, devices).
//
// Design notes:
//   - Send is intentionally NOT closed by the server to avoid panics from
//     concurrent broadcasters.
//   - done is used to signal goroutines to stop.
//   - Close is idempotent.
//   - The currently-viewed conversation is explicit session state (looked up
//     by the relay for notification suppression) instead of being captured in
//     handler closures.
type Client struct {
	SessionID   string
	UserID      string
	Name        string
	ConnectedAt time.Time
	Send        chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	viewing string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, name, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:   sessionID,
		UserID:      userID,
		Name:        name,
		ConnectedAt: time.Now().UTC(),
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetViewing records the conversation this session is currently viewing.
// An empty id means no conversation is open.
func (c *Client) SetViewing(conversationID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.viewing = conversationID
	c.mu.Unlock()
}

// Viewing returns the conversation this session is currently viewing.
func (c *Client) Viewing() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewing
}

// TrySend enqueues env without blocking. Envelopes to a closing client or a
// full queue are dropped; per-destination delivery is best-effort by design.
func (c *Client) TrySend(env v1.Envelope) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
