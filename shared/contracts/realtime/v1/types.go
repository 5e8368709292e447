// Package v1 defines the Pulse Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHelloAck confirms the authenticated session (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeOnlineUsers carries the current presence snapshot (server -> client).
	// The wire name is request-shaped for historical client compatibility.
	TypeOnlineUsers = "get_online_users"

	// TypeJoinConversation marks the conversation the client is viewing (client -> server).
	TypeJoinConversation = "join_conversation"

	// TypeSendMessage requests relaying a new message (client -> server).
	TypeSendMessage = "send_message"
	// TypeReceiveMessage delivers a relayed message (server -> participant sessions).
	TypeReceiveMessage = "receive_message"

	// TypeTyping starts or refreshes a typing indicator (client -> server).
	TypeTyping = "typing"
	// TypeStopTyping clears a typing indicator (client -> server).
	TypeStopTyping = "stop_typing"
	// TypeUserTyping announces a peer started typing (server -> client).
	TypeUserTyping = "user_typing"
	// TypeUserStopTyping announces a peer stopped typing (server -> client).
	TypeUserStopTyping = "user_stop_typing"

	// TypeCallUser starts a call (client -> server) and delivers the offer (server -> callee).
	TypeCallUser = "call_user"
	// TypeAnswerCall accepts an incoming call (client -> server).
	TypeAnswerCall = "answer_call"
	// TypeCallAccepted delivers the answer to the caller (server -> caller).
	TypeCallAccepted = "call_accepted"
	// TypeCallSignal relays an opaque negotiation payload to the counterpart (both directions).
	TypeCallSignal = "call_signal"
	// TypeCallEnded hangs up (client -> server) and notifies the counterpart (server -> client).
	TypeCallEnded = "call_ended"
	// TypeCallError reports a terminal call failure to the initiating side (server -> client).
	TypeCallError = "call_error"

	// TypeNotification delivers an out-of-band notification (server -> client).
	TypeNotification = "notification"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHelloAck,
		TypeOnlineUsers,
		TypeJoinConversation,
		TypeSendMessage,
		TypeReceiveMessage,
		TypeTyping,
		TypeStopTyping,
		TypeUserTyping,
		TypeUserStopTyping,
		TypeCallUser,
		TypeAnswerCall,
		TypeCallAccepted,
		TypeCallSignal,
		TypeCallEnded,
		TypeCallError,
		TypeNotification,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloAckPayload confirms the authenticated session to the client.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// OnlineUsersPayload is the presence snapshot: distinct userIds with at least
// one live session, sorted for deterministic client rendering.
type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

// JoinConversationPayload marks the conversation the session is viewing.
type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessagePayload requests relaying a message into a conversation.
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type,omitempty"`
}

// MessagePayload is the relayed message as delivered to participant sessions.
type MessagePayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	ContentType    string    `json:"content_type,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TypingPayload starts/refreshes or stops a typing indicator.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// UserTypingPayload announces that a peer started typing.
type UserTypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name,omitempty"`
}

// UserStopTypingPayload announces that a peer stopped typing.
type UserStopTypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// CallRequestPayload starts a call (client -> server).
// Signal is opaque to the relay: one-shot SDP and trickle ICE both fit.
type CallRequestPayload struct {
	CalleeID string          `json:"callee_id"`
	Signal   json.RawMessage `json:"signal"`
}

// IncomingCallPayload delivers the offer to the callee (server -> client).
type IncomingCallPayload struct {
	CallerID   string          `json:"caller_id"`
	CallerName string          `json:"caller_name,omitempty"`
	Signal     json.RawMessage `json:"signal"`
}

// AnswerCallPayload accepts an incoming call (client -> server).
type AnswerCallPayload struct {
	CallerID string          `json:"caller_id"`
	Signal   json.RawMessage `json:"signal"`
}

// CallAcceptedPayload delivers the answer to the caller (server -> caller).
type CallAcceptedPayload struct {
	CalleeID string          `json:"callee_id"`
	Signal   json.RawMessage `json:"signal"`
}

// CallSignalPayload relays a negotiation payload between call participants.
// PeerID addresses the counterpart (client -> server); FromID identifies the
// origin (server -> client).
type CallSignalPayload struct {
	PeerID string          `json:"peer_id,omitempty"`
	FromID string          `json:"from_id,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// CallEndedPayload hangs up (client -> server) or reports the hangup (server -> client).
type CallEndedPayload struct {
	PeerID string `json:"peer_id,omitempty"`
	FromID string `json:"from_id,omitempty"`
}

// CallErrorPayload reports a terminal call failure.
type CallErrorPayload struct {
	PeerID string `json:"peer_id,omitempty"`
	Reason string `json:"reason"`
}

// NotificationPayload is an out-of-band notification pushed to a user's sessions.
type NotificationPayload struct {
	NotificationID string          `json:"notification_id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
