package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse/cmd/security/token"
)

const defaultAuthSchema = "pulse"

// PostgresVerifier resolves bearer tokens against pulse.auth_tokens.
//
// Expected schema (owned by the external identity service):
//
//	CREATE TABLE pulse.auth_tokens (
//	    token_hash  TEXT PRIMARY KEY,
//	    user_id     TEXT NOT NULL REFERENCES pulse.users(id),
//	    expires_at  TIMESTAMPTZ NOT NULL,
//	    revoked_at  TIMESTAMPTZ,
//	    last_used_at TIMESTAMPTZ
//	);
//	CREATE TABLE pulse.users (
//	    id           TEXT PRIMARY KEY,
//	    display_name TEXT NOT NULL
//	);
type PostgresVerifier struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	schema string
}

// PostgresVerifierOption customizes a PostgresVerifier.
type PostgresVerifierOption func(*PostgresVerifier)

// WithSchema overrides the schema name (default "pulse").
func WithSchema(schema string) PostgresVerifierOption {
	return func(v *PostgresVerifier) {
		if isValidPGIdent(schema) {
			v.schema = schema
		}
	}
}

// NewPostgresVerifier creates a Postgres-backed verifier.
func NewPostgresVerifier(log *slog.Logger, pool *pgxpool.Pool, opts ...PostgresVerifierOption) *PostgresVerifier {
	v := &PostgresVerifier{log: log, pool: pool, schema: defaultAuthSchema}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify implements Verifier.
//
// The presented token is hashed and looked up; the plaintext never reaches
// the database or the logs. last_used_at is updated best-effort.
func (v *PostgresVerifier) Verify(ctx context.Context, tok string, now time.Time) (Identity, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Identity{}, ErrInvalidToken
	}

	hash := token.HashBearerTokenHex(tok)

	var (
		userID      string
		displayName string
		expiresAt   time.Time
		revokedAt   *time.Time
	)

	q := fmt.Sprintf(`
		SELECT t.user_id, u.display_name, t.expires_at, t.revoked_at
		FROM %s.auth_tokens t
		JOIN %s.users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`, v.schema, v.schema)

	err := v.pool.QueryRow(ctx, q, hash).Scan(&userID, &displayName, &expiresAt, &revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, err
	}

	if revokedAt != nil {
		return Identity{}, ErrTokenRevoked
	}
	if !expiresAt.After(now) {
		return Identity{}, ErrTokenExpired
	}

	upd := fmt.Sprintf(`UPDATE %s.auth_tokens SET last_used_at = $1 WHERE token_hash = $2`, v.schema)
	if _, err := v.pool.Exec(ctx, upd, now, hash); err != nil {
		v.log.Debug("auth.last_used.update_fail", "err", err)
	}

	return Identity{UserID: userID, DisplayName: displayName}, nil
}

// isValidPGIdent accepts plain lowercase identifiers only. Interpolated
// schema names must pass this before reaching a query string.
func isValidPGIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
