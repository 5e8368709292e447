package v1

import (
	"testing"
	"time"
)

// TestWireNames pins the protocol's event names. These strings are the
// contract with deployed clients; changing one is a breaking change.
func TestWireNames(t *testing.T) {
	t.Parallel()

	pinned := map[string]string{
		TypeHelloAck:         "hello_ack",
		TypeOnlineUsers:      "get_online_users",
		TypeJoinConversation: "join_conversation",
		TypeSendMessage:      "send_message",
		TypeReceiveMessage:   "receive_message",
		TypeTyping:           "typing",
		TypeStopTyping:       "stop_typing",
		TypeUserTyping:       "user_typing",
		TypeUserStopTyping:   "user_stop_typing",
		TypeCallUser:         "call_user",
		TypeAnswerCall:       "answer_call",
		TypeCallAccepted:     "call_accepted",
		TypeCallSignal:       "call_signal",
		TypeCallEnded:        "call_ended",
		TypeCallError:        "call_error",
		TypeNotification:     "notification",
		TypeError:            "error",
	}
	for got, want := range pinned {
		if got != want {
			t.Fatalf("wire name %q, want %q", got, want)
		}
	}
	if len(pinned) != 17 {
		t.Fatalf("pinned %d wire names, want 17", len(pinned))
	}
}

func TestEnvelopeValidate_KnownTypes(t *testing.T) {
	t.Parallel()

	known := []string{
		TypeHelloAck,
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
		TypeError,
	}

	for _, typ := range known {
		env := Envelope{V: Version, Type: typ, TS: time.Now().UTC()}
		if err := env.Validate(); err != nil {
			t.Fatalf("type %q: %v", typ, err)
		}
	}
}

func TestEnvelopeValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  Envelope
	}{
		{name: "missing v", env: Envelope{Type: TypeSendMessage}},
		{name: "blank v", env: Envelope{V: "  ", Type: TypeSendMessage}},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeSendMessage}},
		{name: "missing type", env: Envelope{V: Version}},
		{name: "blank type", env: Envelope{V: Version, Type: " "}},
		{name: "unknown type", env: Envelope{V: Version, Type: "no_such_event"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if err := tc.env.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
