package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	memMaxMessagesPerConversation = 10_000
	memMaxNotificationsPerUser    = 1_000
)

// InMemoryMembershipStore is a dev/test membership directory.
type InMemoryMembershipStore struct {
	mu    sync.RWMutex
	convs map[string][]string
}

// NewInMemoryMembershipStore constructs an empty membership directory.
func NewInMemoryMembershipStore() *InMemoryMembershipStore {
	return &InMemoryMembershipStore{convs: make(map[string][]string)}
}

// AddConversation registers a conversation with its participant set.
func (s *InMemoryMembershipStore) AddConversation(conversationID string, participantIDs ...string) {
	s.mu.Lock()
	s.convs[conversationID] = append([]string(nil), participantIDs...)
	s.mu.Unlock()
}

// Participants returns the conversation's member userIds.
func (s *InMemoryMembershipStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return append([]string(nil), members...), nil
}

// InMemoryMessageStore is a dev/test MessageStore with per-conversation
// monotonic seq allocation and bounded retention.
type InMemoryMessageStore struct {
	mu    sync.Mutex
	convs map[string]*memConvMessages
}

type memConvMessages struct {
	seq  int64
	msgs []StoredMessage // ordered by seq
}

// NewInMemoryMessageStore constructs an in-memory MessageStore.
func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{convs: make(map[string]*memConvMessages)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryMessageStore) Close() error { return nil }

// SaveMessage persists a message and allocates the next conversation seq.
func (s *InMemoryMessageStore) SaveMessage(ctx context.Context, in SaveMessageInput) (StoredMessage, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return StoredMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		c = &memConvMessages{msgs: make([]StoredMessage, 0, 256)}
		s.convs[in.ConversationID] = c
	}

	c.seq++
	msg := StoredMessage{
		ConversationID: in.ConversationID,
		MessageID:      id,
		Seq:            c.seq,
		SenderID:       in.SenderID,
		Content:        in.Content,
		ContentType:    in.ContentType,
		CreatedAt:      now,
	}
	c.msgs = append(c.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}

	return msg, nil
}

// Messages returns a copy of the retained messages for a conversation.
func (s *InMemoryMessageStore) Messages(conversationID string) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return nil
	}
	return append([]StoredMessage(nil), c.msgs...)
}

// InMemoryNotificationStore is a dev/test NotificationStore.
type InMemoryNotificationStore struct {
	mu    sync.Mutex
	users map[string][]StoredNotification
}

// NewInMemoryNotificationStore constructs an in-memory NotificationStore.
func NewInMemoryNotificationStore() *InMemoryNotificationStore {
	return &InMemoryNotificationStore{users: make(map[string][]StoredNotification)}
}

// SaveNotification records a notification for later out-of-band fetch.
func (s *InMemoryNotificationStore) SaveNotification(ctx context.Context, in SaveNotificationInput) (StoredNotification, error) {
	if in.UserID == "" || in.Kind == "" {
		return StoredNotification{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredNotification{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return StoredNotification{}, err
	}

	rec := StoredNotification{
		NotificationID: id,
		UserID:         in.UserID,
		Kind:           in.Kind,
		Payload:        append([]byte(nil), in.Payload...),
		CreatedAt:      now,
	}

	s.mu.Lock()
	recs := append(s.users[in.UserID], rec)
	if len(recs) > memMaxNotificationsPerUser {
		recs = recs[len(recs)-memMaxNotificationsPerUser:]
	}
	s.users[in.UserID] = recs
	s.mu.Unlock()

	return rec, nil
}

// NotificationsFor returns a copy of the user's recorded notifications.
func (s *InMemoryNotificationStore) NotificationsFor(userID string) []StoredNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredNotification(nil), s.users[userID]...)
}
