package realtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TypingStore holds ephemeral per-conversation typing indicators with
// automatic idle expiry. It is independent of message persistence.
//
// Entries are keyed (conversationID, userID) and live in per-conversation
// shards so two conversations never contend on the same lock. Expiry fires
// the onExpire callback exactly once per removed entry and behaves like an
// explicit stop, so a client that dies mid-type cannot leave a stale
// indicator behind.
type TypingStore struct {
	log      *slog.Logger
	ttl      time.Duration
	onExpire func(conversationID, userID string)

	mu    sync.RWMutex
	convs map[string]*typingShard
}

type typingShard struct {
	mu    sync.Mutex
	users map[string]*typingEntry
}

type typingEntry struct {
	name      string
	expiresAt time.Time
	timer     *time.Timer
}

// TypingEntry is a read-only view of one live indicator.
type TypingEntry struct {
	ConversationID string
	UserID         string
	Name           string
}

// NewTypingStore constructs a store. ttl <= 0 selects the default idle
// window. onExpire may be nil (expired entries are then dropped silently).
func NewTypingStore(log *slog.Logger, ttl time.Duration, onExpire func(conversationID, userID string)) *TypingStore {
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}
	return &TypingStore{
		log:      log,
		ttl:      ttl,
		onExpire: onExpire,
		convs:    make(map[string]*typingShard),
	}
}

// Start inserts or refreshes the indicator for (conversationID, userID) and
// reports whether the entry is new. Only new entries warrant a user_typing
// broadcast; refreshes just push the expiry out.
func (s *TypingStore) Start(conversationID, userID, name string) (isNew bool) {
	if s == nil || conversationID == "" || userID == "" {
		return false
	}

	shard := s.getOrCreateShard(conversationID)
	now := time.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if e, ok := shard.users[userID]; ok {
		e.expiresAt = now.Add(s.ttl)
		e.name = name
		return false
	}

	e := &typingEntry{
		name:      name,
		expiresAt: now.Add(s.ttl),
	}
	e.timer = time.AfterFunc(s.ttl, func() { s.expire(conversationID, userID) })
	shard.users[userID] = e
	return true
}

// Stop removes the indicator if present and reports whether it existed.
// Stopping when not typing is a no-op, not an error.
func (s *TypingStore) Stop(conversationID, userID string) (removed bool) {
	if s == nil {
		return false
	}

	shard := s.shard(conversationID)
	if shard == nil {
		return false
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.users[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(shard.users, userID)
	return true
}

// StopAllFor removes every indicator the user holds, across conversations,
// and returns the affected conversation ids. Used when a user's last session
// disconnects (implicit stop_typing).
func (s *TypingStore) StopAllFor(userID string) []string {
	if s == nil || userID == "" {
		return nil
	}

	s.mu.RLock()
	shards := make(map[string]*typingShard, len(s.convs))
	for id, sh := range s.convs {
		shards[id] = sh
	}
	s.mu.RUnlock()

	var affected []string
	for conversationID, shard := range shards {
		shard.mu.Lock()
		if e, ok := shard.users[userID]; ok {
			e.timer.Stop()
			delete(shard.users, userID)
			affected = append(affected, conversationID)
		}
		shard.mu.Unlock()
	}

	sort.Strings(affected)
	return affected
}

// Active returns the live indicators for a conversation, sorted by user id.
func (s *TypingStore) Active(conversationID string) []TypingEntry {
	shard := s.shard(conversationID)
	if shard == nil {
		return nil
	}

	shard.mu.Lock()
	out := make([]TypingEntry, 0, len(shard.users))
	for userID, e := range shard.users {
		out = append(out, TypingEntry{
			ConversationID: conversationID,
			UserID:         userID,
			Name:           e.name,
		})
	}
	shard.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// expire is the timer callback. A refresh moves expiresAt forward, so a stale
// firing reschedules instead of removing; removal therefore happens exactly
// once, and onExpire runs outside all locks.
func (s *TypingStore) expire(conversationID, userID string) {
	shard := s.shard(conversationID)
	if shard == nil {
		return
	}

	shard.mu.Lock()
	e, ok := shard.users[userID]
	if !ok {
		shard.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Before(e.expiresAt) {
		e.timer = time.AfterFunc(time.Until(e.expiresAt), func() { s.expire(conversationID, userID) })
		shard.mu.Unlock()
		return
	}

	delete(shard.users, userID)
	shard.mu.Unlock()

	metricTypingEvents.WithLabelValues("expire").Inc()
	s.log.Debug("typing.expire", "conversation_id", conversationID, "user_id", userID)

	if s.onExpire != nil {
		s.onExpire(conversationID, userID)
	}
}

func (s *TypingStore) shard(conversationID string) *typingShard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convs[conversationID]
}

func (s *TypingStore) getOrCreateShard(conversationID string) *typingShard {
	s.mu.RLock()
	shard := s.convs[conversationID]
	s.mu.RUnlock()
	if shard != nil {
		return shard
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if shard = s.convs[conversationID]; shard != nil {
		return shard
	}
	shard = &typingShard{users: make(map[string]*typingEntry)}
	s.convs[conversationID] = shard
	return shard
}
