package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"pulse/cmd/security/token"
)

// StaticVerifier verifies tokens against a fixed in-memory table.
//
// It exists for local development, smoke scripts, and tests. Tokens are
// held as hashes so a heap dump of a dev server still leaks nothing.
type StaticVerifier struct {
	byHash map[string]Identity
}

// NewStaticVerifier builds a verifier from a plaintext token -> identity map.
func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	byHash := make(map[string]Identity, len(tokens))
	for t, id := range tokens {
		byHash[token.HashBearerTokenHex(t)] = id
	}
	return &StaticVerifier{byHash: byHash}
}

// ParseStaticTokens parses the PULSE_STATIC_TOKENS format:
//
//	token:user_id:display_name[,token:user_id:display_name...]
//
// Display names may not contain ':' or ','. Blank entries are rejected.
func ParseStaticTokens(raw string) (map[string]Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("static tokens: empty")
	}

	out := make(map[string]Identity)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("static tokens: malformed entry (want token:user_id:display_name)")
		}

		tok := strings.TrimSpace(parts[0])
		userID := strings.TrimSpace(parts[1])
		name := strings.TrimSpace(parts[2])
		if tok == "" || userID == "" || name == "" {
			return nil, fmt.Errorf("static tokens: blank field in entry")
		}
		if _, dup := out[tok]; dup {
			return nil, fmt.Errorf("static tokens: duplicate token")
		}

		out[tok] = Identity{UserID: userID, DisplayName: name}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("static tokens: no entries")
	}
	return out, nil
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(_ context.Context, tok string, _ time.Time) (Identity, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Identity{}, ErrInvalidToken
	}

	h := token.HashBearerTokenHex(tok)

	// Constant-time scan: compare against every entry so lookup timing does
	// not reveal whether a prefix of the table matched.
	var (
		found Identity
		ok    bool
	)
	for storedHash, id := range v.byHash {
		if subtle.ConstantTimeCompare([]byte(storedHash), []byte(h)) == 1 {
			found = id
			ok = true
		}
	}
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return found, nil
}
