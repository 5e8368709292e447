package realtime

import (
	"log/slog"
	"sort"
	"sync"

	v1 "pulse/shared/contracts/realtime/v1"
)

// SessionRegistry owns the userID -> sessions index. It is the single source
// of truth for which channels a user owns; every other component reads it
// through copy-on-broadcast accessors.
//
// Concurrency guarantees:
//   - Register/Unregister are safe under concurrent fan-out.
//   - Fan-out never blocks (drops under backpressure) and never performs
//     network I/O: it only enqueues onto bounded client queues.
type SessionRegistry struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client // userID -> sessionID -> client
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(log *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Register indexes a client under its user and reports whether this is the
// user's first live session (the user just came online).
func (r *SessionRegistry) Register(c *Client) (cameOnline bool) {
	if r == nil || c == nil || c.SessionID == "" || c.UserID == "" {
		return false
	}

	r.mu.Lock()
	sessions := r.users[c.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client, 1)
		r.users[c.UserID] = sessions
		cameOnline = true
	}
	sessions[c.SessionID] = c
	r.mu.Unlock()

	metricSessions.Inc()
	if cameOnline {
		metricOnlineUsers.Inc()
	}

	r.log.Info("session.register",
		"user_id", c.UserID, "session_id", c.SessionID, "came_online", cameOnline)
	return cameOnline
}

// Unregister removes a client from the index and reports whether the user has
// no sessions left (the user just went offline). Removal happens before any
// caller-side presence broadcast, so a since-closed channel can never be
// raced by a later snapshot.
func (r *SessionRegistry) Unregister(c *Client) (wentOffline bool) {
	if r == nil || c == nil {
		return false
	}

	r.mu.Lock()
	sessions := r.users[c.UserID]
	if sessions == nil {
		r.mu.Unlock()
		return false
	}
	if _, ok := sessions[c.SessionID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(sessions, c.SessionID)
	if len(sessions) == 0 {
		delete(r.users, c.UserID)
		wentOffline = true
	}
	r.mu.Unlock()

	metricSessions.Dec()
	if wentOffline {
		metricOnlineUsers.Dec()
	}

	r.log.Info("session.unregister",
		"user_id", c.UserID, "session_id", c.SessionID, "went_offline", wentOffline)
	return wentOffline
}

// SessionsFor returns a copy of the user's live clients.
func (r *SessionRegistry) SessionsFor(userID string) []*Client {
	if r == nil || userID == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.users[userID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(sessions))
	for _, c := range sessions {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live session.
func (r *SessionRegistry) IsOnline(userID string) bool {
	if r == nil || userID == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Online returns the sorted set of userIds with at least one live session.
func (r *SessionRegistry) Online() []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for userID := range r.users {
		out = append(out, userID)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// UserViewing reports whether any of the user's sessions currently has the
// conversation open.
func (r *SessionRegistry) UserViewing(userID, conversationID string) bool {
	if conversationID == "" {
		return false
	}
	for _, c := range r.SessionsFor(userID) {
		if c.Viewing() == conversationID {
			return true
		}
	}
	return false
}

// SendToUser enqueues env to every live session of the user and returns the
// number of sessions that accepted it.
func (r *SessionRegistry) SendToUser(userID string, env v1.Envelope) int {
	delivered := 0
	for _, c := range r.SessionsFor(userID) {
		if c.TrySend(env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll enqueues env to every live session of every user.
func (r *SessionRegistry) BroadcastAll(env v1.Envelope) {
	if r == nil {
		return
	}

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.users))
	for _, sessions := range r.users {
		for _, c := range sessions {
			clients = append(clients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.TrySend(env)
	}
}
