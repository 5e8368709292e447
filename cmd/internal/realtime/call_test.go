package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

func TestCall_FullLifecycle(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)

	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a, v1.TypeOnlineUsers)

	offer := json.RawMessage(`{"sdp":"offer"}`)
	if err := core.Calls.Initiate(a, "bob", offer); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	env := recvType(t, b, v1.TypeCallUser)
	incoming := decodePayload[v1.IncomingCallPayload](t, env)
	if incoming.CallerID != "alice" || incoming.CallerName != "Alice" {
		t.Fatalf("incoming=%+v want caller alice/Alice", incoming)
	}
	if string(incoming.Signal) != string(offer) {
		t.Fatalf("offer signal altered: %s", incoming.Signal)
	}

	if st, ok := core.Calls.ActiveState("alice", "bob"); !ok || st != CallRinging {
		t.Fatalf("state=%v ok=%v want ringing", st, ok)
	}

	answer := json.RawMessage(`{"sdp":"answer"}`)
	if err := core.Calls.Accept(b, "alice", answer); err != nil {
		t.Fatalf("accept: %v", err)
	}

	acc := decodePayload[v1.CallAcceptedPayload](t, recvType(t, a, v1.TypeCallAccepted))
	if acc.CalleeID != "bob" || string(acc.Signal) != string(answer) {
		t.Fatalf("accepted=%+v", acc)
	}

	if st, _ := core.Calls.ActiveState("alice", "bob"); st != CallAccepted {
		t.Fatalf("state=%v want accepted", st)
	}

	// Trickle candidates flow both ways, only to the counterpart.
	cand := json.RawMessage(`{"candidate":"c1"}`)
	if err := core.Calls.Signal(a, "bob", cand); err != nil {
		t.Fatalf("signal a->b: %v", err)
	}
	sig := decodePayload[v1.CallSignalPayload](t, recvType(t, b, v1.TypeCallSignal))
	if sig.FromID != "alice" || string(sig.Signal) != string(cand) {
		t.Fatalf("signal=%+v", sig)
	}
	if err := core.Calls.Signal(b, "alice", cand); err != nil {
		t.Fatalf("signal b->a: %v", err)
	}
	recvType(t, a, v1.TypeCallSignal)

	if err := core.Calls.End(a.UserID, a.SessionID, "bob"); err != nil {
		t.Fatalf("end: %v", err)
	}
	ended := decodePayload[v1.CallEndedPayload](t, recvType(t, b, v1.TypeCallEnded))
	if ended.FromID != "alice" {
		t.Fatalf("ended=%+v want from alice", ended)
	}
	if _, ok := core.Calls.ActiveState("alice", "bob"); ok {
		t.Fatalf("call still active after hangup")
	}
}

func TestCall_SelfCallRejected(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")

	if err := core.Calls.Initiate(a, "alice", nil); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("err=%v want ErrSelfCall", err)
	}
}

func TestCall_UnreachableCallee(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")

	err := core.Calls.Initiate(a, "bob", nil)
	if !errors.Is(err, ErrCalleeUnreachable) {
		t.Fatalf("err=%v want ErrCalleeUnreachable", err)
	}
	if _, ok := core.Calls.ActiveState("alice", "bob"); ok {
		t.Fatalf("no call session should exist after unreachable")
	}
}

func TestCall_BusyPair(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Same pair again, from either direction.
	if err := core.Calls.Initiate(a, "bob", nil); !errors.Is(err, ErrCallBusy) {
		t.Fatalf("err=%v want ErrCallBusy", err)
	}
	if err := core.Calls.Initiate(b, "alice", nil); !errors.Is(err, ErrCallBusy) {
		t.Fatalf("reverse err=%v want ErrCallBusy", err)
	}
}

func TestCall_FirstAcceptWins(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b1 := connectSession(t, core, "bob", "Bob", "s-b1")
	b2 := connectSession(t, core, "bob", "Bob", "s-b2")
	recvType(t, a, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	recvType(t, b1, v1.TypeCallUser)
	recvType(t, b2, v1.TypeCallUser)

	if err := core.Calls.Accept(b1, "alice", nil); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := core.Calls.Accept(b2, "alice", nil); !errors.Is(err, ErrCallAlreadyAccepted) {
		t.Fatalf("second accept err=%v want ErrCallAlreadyAccepted", err)
	}

	// The losing device's ringing UI is torn down.
	recvType(t, b2, v1.TypeCallEnded)
}

func TestCall_AcceptWithoutCall(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	b := connectSession(t, core, "bob", "Bob", "s-b1")

	if err := core.Calls.Accept(b, "alice", nil); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("err=%v want ErrNoActiveCall", err)
	}
}

func TestCall_RingTimeout(t *testing.T) {
	t.Parallel()

	core, _, notifications := newTestCore(t, CoreConfig{RingTimeout: 40 * time.Millisecond}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	recvType(t, b, v1.TypeCallUser)

	callErr := decodePayload[v1.CallErrorPayload](t, recvType(t, a, v1.TypeCallError))
	if callErr.Reason != CallReasonTimeout {
		t.Fatalf("reason=%q want=%q", callErr.Reason, CallReasonTimeout)
	}
	recvType(t, b, v1.TypeCallEnded)

	if _, ok := core.Calls.ActiveState("alice", "bob"); ok {
		t.Fatalf("call still active after timeout")
	}

	// Missed-call notification is persisted for the callee.
	waitFor(t, func() bool {
		for _, n := range notifications.NotificationsFor("bob") {
			if n.Kind == NotifyMissedCall {
				return true
			}
		}
		return false
	})
}

func TestCall_EndedOnLastSessionDisconnect(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a1 := connectSession(t, core, "alice", "Alice", "s-a1")
	a2 := connectSession(t, core, "alice", "Alice", "s-a2")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a1, v1.TypeOnlineUsers)
	recvType(t, a2, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a1, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	recvType(t, b, v1.TypeCallUser)
	if err := core.Calls.Accept(b, "alice", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// One alice session drops: the call stays up.
	core.HandleDisconnect(a2)
	if _, ok := core.Calls.ActiveState("alice", "bob"); !ok {
		t.Fatalf("call must survive a non-final disconnect")
	}

	// Last alice session drops: bob is told the call ended.
	core.HandleDisconnect(a1)
	recvType(t, b, v1.TypeCallEnded)
	if _, ok := core.Calls.ActiveState("alice", "bob"); ok {
		t.Fatalf("call still active after last disconnect")
	}
}

func TestCall_SignalFromOutsider(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	m := connectSession(t, core, "mallory", "Mallory", "s-m1")
	recvType(t, a, v1.TypeOnlineUsers)
	recvType(t, a, v1.TypeOnlineUsers)
	recvType(t, b, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	recvType(t, b, v1.TypeCallUser)

	// Mallory has no session with alice or bob.
	if err := core.Calls.Signal(m, "alice", nil); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("err=%v want ErrNoActiveCall", err)
	}
}

func TestCall_FailReportsCallerSide(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	recvType(t, b, v1.TypeCallUser)

	if err := core.Calls.Fail("alice", "bob", CallReasonPeerLost); err != nil {
		t.Fatalf("fail: %v", err)
	}

	ce := decodePayload[v1.CallErrorPayload](t, recvType(t, a, v1.TypeCallError))
	if ce.Reason != CallReasonPeerLost || ce.PeerID != "bob" {
		t.Fatalf("call_error=%+v", ce)
	}
	recvType(t, b, v1.TypeCallEnded)

	if _, ok := core.Calls.ActiveState("alice", "bob"); ok {
		t.Fatalf("session must be destroyed")
	}
	if err := core.Calls.Fail("alice", "bob", CallReasonPeerLost); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("err=%v want ErrNoActiveCall", err)
	}
}

func TestCall_CalleeLostWhileRinging(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, CoreConfig{}, nil)
	a := connectSession(t, core, "alice", "Alice", "s-a1")
	b := connectSession(t, core, "bob", "Bob", "s-b1")
	recvType(t, a, v1.TypeOnlineUsers)

	if err := core.Calls.Initiate(a, "bob", nil); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	recvType(t, b, v1.TypeCallUser)

	// Bob's only session drops before answering: alice gets call_error,
	// not a hangup, so her UI can tell "lost" from "declined".
	core.HandleDisconnect(b)

	ce := decodePayload[v1.CallErrorPayload](t, recvType(t, a, v1.TypeCallError))
	if ce.Reason != CallReasonPeerLost {
		t.Fatalf("reason=%q want=%q", ce.Reason, CallReasonPeerLost)
	}
	if _, ok := core.Calls.ActiveState("alice", "bob"); ok {
		t.Fatalf("session still active after callee lost")
	}
}
