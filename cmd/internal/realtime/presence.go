package realtime

import (
	"log/slog"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// PresenceTracker derives the online user set from session lifecycle events
// and broadcasts it when membership changes.
//
// Invariant: the snapshot is always computed from the live session index, so
// it cannot drift from it (no user present with zero sessions, none absent
// with one or more).
type PresenceTracker struct {
	log *slog.Logger
	reg *SessionRegistry
}

// NewPresenceTracker constructs a tracker over the given registry.
func NewPresenceTracker(log *slog.Logger, reg *SessionRegistry) *PresenceTracker {
	return &PresenceTracker{log: log, reg: reg}
}

// Snapshot returns the current sorted online user set.
func (p *PresenceTracker) Snapshot() []string {
	return p.reg.Online()
}

// OnConnect reacts to a newly registered session. The whole fleet hears about
// it only when the user actually came online (a second tab produces no
// broadcast). Either way the new session receives exactly one snapshot: the
// broadcast already covers it because registration happened first.
func (p *PresenceTracker) OnConnect(c *Client, cameOnline bool) {
	if cameOnline {
		p.broadcast()
		return
	}
	c.TrySend(p.snapshotEnvelope())
}

// OnDisconnect reacts to a removed session. The session must already be out
// of the registry; only the user's last session triggers a broadcast.
func (p *PresenceTracker) OnDisconnect(wentOffline bool) {
	if wentOffline {
		p.broadcast()
	}
}

func (p *PresenceTracker) broadcast() {
	env := p.snapshotEnvelope()
	p.reg.BroadcastAll(env)
	p.log.Debug("presence.broadcast", "online", len(p.reg.Online()))
}

func (p *PresenceTracker) snapshotEnvelope() v1.Envelope {
	now := time.Now().UTC()
	return mustEnvelope(v1.TypeOnlineUsers, v1.OnlineUsersPayload{UserIDs: p.Snapshot()}, now)
}
