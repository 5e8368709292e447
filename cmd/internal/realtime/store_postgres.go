package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements MembershipStore, MessageStore, and
// NotificationStore on PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Message appends take a per-conversation transactional advisory lock so
//   seq allocation is strictly monotonic and gap-free under concurrency.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "pulse").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "pulse",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Participants implements MembershipStore.
func (s *PostgresStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if conversationID == "" {
		return nil, ErrConversationNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")
	members := pgIdent(s.schema, "conversation_members")

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+conversations+` WHERE id = $1)`,
		conversationID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrConversationNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id
		   FROM `+members+`
		  WHERE conversation_id = $1
		  ORDER BY user_id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// SaveMessage implements MessageStore with monotonic sequence allocation.
func (s *PostgresStore) SaveMessage(ctx context.Context, in SaveMessageInput) (StoredMessage, error) {
	if s == nil || s.pool == nil {
		return StoredMessage{}, errors.New("realtime: nil store")
	}
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return StoredMessage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per conversation so seq allocation never races.
	// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return StoredMessage{}, fmt.Errorf("advisory lock: %w", err)
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return StoredMessage{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return StoredMessage{}, err
	}

	messageID, err := NewULID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, seq, sender_id, content, content_type, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		messageID, in.ConversationID, seq, in.SenderID, in.Content, in.ContentType, now,
	); err != nil {
		return StoredMessage{}, fmt.Errorf("insert message: %w", err)
	}

	out := StoredMessage{
		ConversationID: in.ConversationID,
		MessageID:      messageID,
		Seq:            seq,
		SenderID:       in.SenderID,
		Content:        in.Content,
		ContentType:    in.ContentType,
		CreatedAt:      now,
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredMessage{}, err
	}
	return out, nil
}

// SaveNotification implements NotificationStore.
func (s *PostgresStore) SaveNotification(ctx context.Context, in SaveNotificationInput) (StoredNotification, error) {
	if s == nil || s.pool == nil {
		return StoredNotification{}, errors.New("realtime: nil store")
	}
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

	notificationID, err := NewULID(now)
	if err != nil {
		return StoredNotification{}, err
	}

	notifications := pgIdent(s.schema, "notifications")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+notifications+` (
		     id, user_id, kind, payload, created_at
		   ) VALUES ($1, $2, $3, $4, $5)`,
		notificationID, in.UserID, in.Kind, in.Payload, now,
	); err != nil {
		return StoredNotification{}, fmt.Errorf("insert notification: %w", err)
	}

	return StoredNotification{
		NotificationID: notificationID,
		UserID:         in.UserID,
		Kind:           in.Kind,
		Payload:        in.Payload,
		CreatedAt:      now,
	}, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
