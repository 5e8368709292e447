package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Relay routes a sent message to every live session of every conversation
// participant and hands offline or away participants to the notifier.
//
// Ordering guarantee: persistence and fan-out enqueue happen under a
// per-conversation critical section, so for any two messages accepted into
// the same conversation, every recipient queue observes them in seq order.
// The critical section only ever enqueues onto bounded client queues; the
// actual socket writes happen asynchronously per destination.
type Relay struct {
	log      *slog.Logger
	reg      *SessionRegistry
	members  MembershipStore
	store    MessageStore
	notifier *Notifier

	mu     sync.Mutex
	shards map[string]*sync.Mutex
}

// NewRelay constructs a relay over its collaborators.
func NewRelay(log *slog.Logger, reg *SessionRegistry, members MembershipStore, store MessageStore, notifier *Notifier) *Relay {
	return &Relay{
		log:      log,
		reg:      reg,
		members:  members,
		store:    store,
		notifier: notifier,
		shards:   make(map[string]*sync.Mutex),
	}
}

// Send validates, persists, and fans out one message. Validation failures
// are returned synchronously; delivery to any specific dead channel is
// skipped, never cascaded into the sender's result. A participant without a
// live channel is not an error: the message becomes a notification instead.
func (r *Relay) Send(ctx context.Context, sender *Client, conversationID, content, contentType string) (v1.MessagePayload, error) {
	participants, err := r.members.Participants(ctx, conversationID)
	if err != nil {
		return v1.MessagePayload{}, fmt.Errorf("membership lookup: %w", err)
	}
	if !containsString(participants, sender.UserID) {
		return v1.MessagePayload{}, ErrNotMember
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return v1.MessagePayload{}, ErrEmptyContent
	}
	if len([]rune(content)) > maxMessageChars {
		return v1.MessagePayload{}, fmt.Errorf("%w: max=%d chars", ErrMessageTooLong, maxMessageChars)
	}

	now := time.Now().UTC()

	shard := r.shardFor(conversationID)
	shard.Lock()

	stored, err := r.store.SaveMessage(ctx, SaveMessageInput{
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		Content:        content,
		ContentType:    contentType,
		Now:            now,
	})
	if err != nil {
		shard.Unlock()
		return v1.MessagePayload{}, fmt.Errorf("store message: %w", err)
	}

	payload := v1.MessagePayload{
		ConversationID: stored.ConversationID,
		MessageID:      stored.MessageID,
		Seq:            stored.Seq,
		SenderID:       stored.SenderID,
		Content:        stored.Content,
		ContentType:    stored.ContentType,
		CreatedAt:      stored.CreatedAt,
	}
	env := mustEnvelope(v1.TypeReceiveMessage, payload, now)

	// Deliver to every live channel of every participant, the sender's other
	// sessions included, for multi-device consistency.
	var toNotify []string
	for _, userID := range participants {
		sessions := r.reg.SessionsFor(userID)
		if len(sessions) == 0 {
			if userID != sender.UserID {
				toNotify = append(toNotify, userID)
			}
			continue
		}
		for _, c := range sessions {
			if !c.TrySend(env) {
				r.log.Info("relay.deliver.skip",
					"conversation_id", conversationID, "session_id", c.SessionID)
			}
		}
		// Online but not looking at this conversation: still worth a nudge.
		if userID != sender.UserID && !r.reg.UserViewing(userID, conversationID) {
			toNotify = append(toNotify, userID)
		}
	}

	shard.Unlock()

	metricMessagesRelayed.Inc()

	for _, userID := range toNotify {
		r.notifyNewMessage(ctx, userID, payload)
	}

	return payload, nil
}

func (r *Relay) notifyNewMessage(ctx context.Context, userID string, msg v1.MessagePayload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyNewMessage(ctx, userID, msg); err != nil {
		// Best-effort: the message itself was already relayed/persisted.
		r.log.Error("relay.notify.fail", "user_id", userID, "err", err)
	}
}

func (r *Relay) shardFor(conversationID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.shards[conversationID]
	if m == nil {
		m = &sync.Mutex{}
		r.shards[conversationID] = m
	}
	return m
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
