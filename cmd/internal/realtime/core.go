// Package realtime implements Pulse's presence, conversation-relay, and
// call-signaling core behind a websocket gateway.
package realtime

import (
	"context"
	"log/slog"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Core bundles the realtime components and owns the cross-component flows
// the gateway drives: session lifecycle, typing fan-out, and disconnect
// cleanup.
type Core struct {
	log     *slog.Logger
	members MembershipStore

	Registry *SessionRegistry
	Presence *PresenceTracker
	Typing   *TypingStore
	Relay    *Relay
	Calls    *CallRegistry
	Notifier *Notifier
}

// CoreConfig carries the tunables of the core. Zero values select defaults.
type CoreConfig struct {
	TypingTTL   time.Duration
	RingTimeout time.Duration
}

// NewCore wires the realtime components over the given collaborators.
func NewCore(log *slog.Logger, members MembershipStore, messages MessageStore, notifications NotificationStore, cfg CoreConfig) *Core {
	c := &Core{
		log:     log,
		members: members,
	}

	c.Registry = NewSessionRegistry(log)
	c.Presence = NewPresenceTracker(log, c.Registry)
	c.Notifier = NewNotifier(log, c.Registry, notifications)
	c.Relay = NewRelay(log, c.Registry, members, messages, c.Notifier)
	c.Typing = NewTypingStore(log, cfg.TypingTTL, c.broadcastStopTyping)
	c.Calls = NewCallRegistry(log, c.Registry, c.Notifier, cfg.RingTimeout)

	return c
}

// HandleConnect registers an authenticated session and runs the presence
// side effects: a fleet broadcast only when the user came online, and one
// direct snapshot to the new session either way.
func (c *Core) HandleConnect(client *Client) {
	cameOnline := c.Registry.Register(client)
	c.Presence.OnConnect(client, cameOnline)
}

// HandleDisconnect removes the session from the index first, then runs the
// cleanup a vanished client implies: implicit stop_typing and call teardown
// when this was the user's last session, and the presence broadcast last.
func (c *Core) HandleDisconnect(client *Client) {
	wentOffline := c.Registry.Unregister(client)

	if wentOffline {
		for _, conversationID := range c.Typing.StopAllFor(client.UserID) {
			c.broadcastStopTyping(conversationID, client.UserID)
		}
		c.Calls.EndAllFor(client.UserID)
	}

	c.Presence.OnDisconnect(wentOffline)
}

// StartTyping inserts/refreshes the sender's typing indicator and, only when
// the indicator is new, announces it to the other participants' channels.
func (c *Core) StartTyping(ctx context.Context, client *Client, conversationID string) error {
	participants, err := c.members.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if !containsString(participants, client.UserID) {
		return ErrNotMember
	}

	if !c.Typing.Start(conversationID, client.UserID, client.Name) {
		return nil
	}

	metricTypingEvents.WithLabelValues("start").Inc()
	env := mustEnvelope(v1.TypeUserTyping, v1.UserTypingPayload{
		ConversationID: conversationID,
		UserID:         client.UserID,
		Name:           client.Name,
	}, time.Now().UTC())
	c.sendToOthers(participants, client.UserID, env)
	return nil
}

// StopTyping removes the sender's indicator. Idempotent: stopping when not
// typing broadcasts nothing.
func (c *Core) StopTyping(ctx context.Context, client *Client, conversationID string) error {
	participants, err := c.members.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if !containsString(participants, client.UserID) {
		return ErrNotMember
	}

	if !c.Typing.Stop(conversationID, client.UserID) {
		return nil
	}

	metricTypingEvents.WithLabelValues("stop").Inc()
	env := mustEnvelope(v1.TypeUserStopTyping, v1.UserStopTypingPayload{
		ConversationID: conversationID,
		UserID:         client.UserID,
	}, time.Now().UTC())
	c.sendToOthers(participants, client.UserID, env)
	return nil
}

// broadcastStopTyping announces an indicator removal that did not come from
// an explicit stop on a live request path (idle expiry, disconnect).
func (c *Core) broadcastStopTyping(conversationID, userID string) {
	ctx, cancel := contextWithTimeout(5 * time.Second)
	defer cancel()

	participants, err := c.members.Participants(ctx, conversationID)
	if err != nil {
		c.log.Error("typing.stop_broadcast.fail",
			"conversation_id", conversationID, "user_id", userID, "err", err)
		return
	}

	env := mustEnvelope(v1.TypeUserStopTyping, v1.UserStopTypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
	}, time.Now().UTC())
	c.sendToOthers(participants, userID, env)
}

func (c *Core) sendToOthers(participants []string, exceptUserID string, env v1.Envelope) {
	for _, userID := range participants {
		if userID == exceptUserID {
			continue
		}
		c.Registry.SendToUser(userID, env)
	}
}
