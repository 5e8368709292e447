package realtime

import "errors"

// Relay validation errors. These reject a single request and never affect the
// connection.
var (
	// ErrNotMember is returned when a sender is not a participant of the
	// conversation it targets.
	ErrNotMember = errors.New("not a conversation member")

	// ErrEmptyContent is returned when message content is empty after trimming.
	ErrEmptyContent = errors.New("empty message content")

	// ErrMessageTooLong is returned when message content exceeds the rune cap.
	ErrMessageTooLong = errors.New("message too long")

	// ErrConversationNotFound is returned by membership lookups for unknown
	// conversations.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Call-domain errors. They are reported to the initiating client as a
// call_error envelope and leave no call state behind.
var (
	// ErrCallBusy is returned when a call between the same pair is already in
	// a non-terminal state.
	ErrCallBusy = errors.New("call busy")

	// ErrCalleeUnreachable is returned synchronously when the callee has zero
	// active sessions at initiate time.
	ErrCalleeUnreachable = errors.New("callee unreachable")

	// ErrSelfCall is returned when a user attempts to call themselves.
	ErrSelfCall = errors.New("cannot call yourself")

	// ErrNoActiveCall is returned when an event references a pair with no
	// active call session.
	ErrNoActiveCall = errors.New("no active call")

	// ErrNotCallParticipant is returned when the acting user is not one of the
	// two call participants, or acts in a role it does not hold.
	ErrNotCallParticipant = errors.New("not a call participant")

	// ErrCallAlreadyAccepted is returned on a second accept for the same call
	// (first accept wins across a callee's devices).
	ErrCallAlreadyAccepted = errors.New("call already accepted")
)
