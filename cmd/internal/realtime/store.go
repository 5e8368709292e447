package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// The relay core never owns durable data. Conversation membership, message
// history, and notification records live behind these collaborator
// interfaces; the in-memory implementations serve dev and tests, the
// Postgres implementations serve production.

// MembershipStore resolves conversation membership. It is the authorization
// boundary for relay and typing events.
type MembershipStore interface {
	// Participants returns the userIds of a conversation's members.
	// Unknown conversations yield ErrConversationNotFound.
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// StoredMessage is the canonical persisted message representation. The
// relay's in-memory copy is transient; after fan-out only the store retains
// it.
type StoredMessage struct {
	ConversationID string
	MessageID      string
	Seq            int64
	SenderID       string
	Content        string
	ContentType    string
	CreatedAt      time.Time
}

// SaveMessageInput describes a message persistence request.
type SaveMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	ContentType    string
	Now            time.Time
}

// MessageStore persists relayed messages.
//
// Requirements:
//   - Monotonic seq per conversation, consistent with fan-out order.
//   - History reads happen through the surrounding REST layer, not here.
type MessageStore interface {
	SaveMessage(ctx context.Context, in SaveMessageInput) (StoredMessage, error)
	Close() error
}

// StoredNotification is one persisted out-of-band notification record.
type StoredNotification struct {
	NotificationID string
	UserID         string
	Kind           string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// SaveNotificationInput describes a notification persistence request.
type SaveNotificationInput struct {
	UserID  string
	Kind    string
	Payload json.RawMessage
	Now     time.Time
}

// NotificationStore persists notifications so a later poll/fetch finds them
// regardless of live delivery.
type NotificationStore interface {
	SaveNotification(ctx context.Context, in SaveNotificationInput) (StoredNotification, error)
}
