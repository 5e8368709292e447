package realtime

import (
	"context"
	"encoding/json"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// contextWithTimeout is used by timer-driven paths that outlive any request
// context.
func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// newEnvelope wraps a marshaled payload into a protocol envelope.
func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      MustULID(ts),
		TS:      ts,
		Payload: payload,
	}
}

// mustEnvelope marshals payload and wraps it. Payload types are our own
// structs, so a marshal failure is a programming error; the envelope is
// emitted with a nil payload in that case rather than dropped silently.
func mustEnvelope(typ string, payload any, ts time.Time) v1.Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		b = nil
	}
	return newEnvelope(typ, b, ts)
}
