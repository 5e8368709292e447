package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps session, message, and
// notification ids useful for tracing and ordering in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for contexts where an id failure is unrecoverable anyway
// (envelope ids). On the extremely rare rand failure it degrades to a
// timestamp-only ULID rather than panicking mid-broadcast.
func MustULID(now time.Time) string {
	s, err := NewULID(now)
	if err != nil {
		if now.IsZero() {
			now = time.Now().UTC()
		}
		var zero ulid.ULID
		zero.SetTime(ulid.Timestamp(now))
		return zero.String()
	}
	return s
}
