package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// CallState is the lifecycle position of one call negotiation.
type CallState uint8

const (
	// CallRinging means the offer was relayed and no accept has arrived yet.
	// The caller sees it as outgoing, the callee as incoming.
	CallRinging CallState = iota + 1
	// CallAccepted means the callee answered; negotiation payloads keep
	// flowing until either side hangs up and media runs peer to peer.
	CallAccepted
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Wire reasons carried by call_error.
const (
	CallReasonBusy        = "busy"
	CallReasonUnreachable = "unreachable"
	CallReasonTimeout     = "timeout"
	CallReasonPeerLost    = "peer_lost"
)

// CallSession is the server-side record of one in-progress negotiation
// between exactly two users. Terminal sessions are removed from the
// registry, never kept in a terminal state, so a later initiate between the
// same pair is permitted.
type CallSession struct {
	CallerID   string
	CallerName string
	CalleeID   string
	State      CallState
	StartedAt  time.Time

	ringTimer *time.Timer
}

func (cs *CallSession) counterpart(userID string) string {
	if cs.CallerID == userID {
		return cs.CalleeID
	}
	return cs.CallerID
}

// CallRegistry tracks at most one CallSession per unordered user pair and
// relays signaling payloads verbatim between exactly the two participants'
// channel sets, never broadcast.
//
// The registry mutex is the serialization point: a concurrent initiate race
// from both members of a pair resolves deterministically, the first to
// acquire the lock wins and the loser gets ErrCallBusy explicitly.
type CallRegistry struct {
	log      *slog.Logger
	reg      *SessionRegistry
	notifier *Notifier

	ringTimeout time.Duration

	mu    sync.Mutex
	calls map[string]*CallSession // pairKey -> session
}

// NewCallRegistry constructs a registry. ringTimeout <= 0 selects the
// default ringing window. notifier may be nil (no missed-call records).
func NewCallRegistry(log *slog.Logger, reg *SessionRegistry, notifier *Notifier, ringTimeout time.Duration) *CallRegistry {
	if ringTimeout <= 0 {
		ringTimeout = defaultRingTimeout
	}
	return &CallRegistry{
		log:         log,
		reg:         reg,
		notifier:    notifier,
		ringTimeout: ringTimeout,
		calls:       make(map[string]*CallSession),
	}
}

// Initiate starts a call and relays the offer to the callee's channels only.
// It fails synchronously with ErrCallBusy when the pair already has a
// non-terminal session, and with ErrCalleeUnreachable when the callee has no
// channel to ring — no timeout wait in either case.
func (r *CallRegistry) Initiate(caller *Client, calleeID string, signal json.RawMessage) error {
	if calleeID == "" || caller == nil {
		return ErrNotCallParticipant
	}
	if calleeID == caller.UserID {
		return ErrSelfCall
	}

	now := time.Now().UTC()
	key := pairKey(caller.UserID, calleeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[key]; exists {
		metricCallOutcomes.WithLabelValues("busy").Inc()
		return ErrCallBusy
	}

	env := mustEnvelope(v1.TypeCallUser, v1.IncomingCallPayload{
		CallerID:   caller.UserID,
		CallerName: caller.Name,
		Signal:     signal,
	}, now)

	if r.reg.SendToUser(calleeID, env) == 0 {
		metricCallOutcomes.WithLabelValues("unreachable").Inc()
		return ErrCalleeUnreachable
	}

	cs := &CallSession{
		CallerID:   caller.UserID,
		CallerName: caller.Name,
		CalleeID:   calleeID,
		State:      CallRinging,
		StartedAt:  now,
	}
	cs.ringTimer = time.AfterFunc(r.ringTimeout, func() { r.timeout(key, cs) })
	r.calls[key] = cs
	metricCallsActive.Inc()

	r.log.Info("call.initiate", "caller_id", caller.UserID, "callee_id", calleeID)
	return nil
}

// Accept answers a ringing call and relays the answer to the caller's
// channels only. First accept wins across the callee's devices; the
// remaining incoming-call sessions are told the call ended.
func (r *CallRegistry) Accept(callee *Client, callerID string, signal json.RawMessage) error {
	if callee == nil || callerID == "" {
		return ErrNotCallParticipant
	}

	now := time.Now().UTC()
	key := pairKey(callerID, callee.UserID)

	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.calls[key]
	if cs == nil {
		return ErrNoActiveCall
	}
	if cs.CalleeID != callee.UserID || cs.CallerID != callerID {
		return ErrNotCallParticipant
	}
	if cs.State != CallRinging {
		return ErrCallAlreadyAccepted
	}

	cs.State = CallAccepted
	cs.ringTimer.Stop()

	accepted := mustEnvelope(v1.TypeCallAccepted, v1.CallAcceptedPayload{
		CalleeID: callee.UserID,
		Signal:   signal,
	}, now)
	r.reg.SendToUser(cs.CallerID, accepted)

	// Tear down the incoming-call UI on the callee's other devices.
	ended := mustEnvelope(v1.TypeCallEnded, v1.CallEndedPayload{FromID: cs.CallerID}, now)
	for _, c := range r.reg.SessionsFor(callee.UserID) {
		if c.SessionID != callee.SessionID {
			c.TrySend(ended)
		}
	}

	r.log.Info("call.accept", "caller_id", cs.CallerID, "callee_id", cs.CalleeID)
	return nil
}

// Signal relays an opaque negotiation payload to the counterpart's channels
// only. Valid while the session is ringing or accepted; no state change.
func (r *CallRegistry) Signal(from *Client, peerID string, signal json.RawMessage) error {
	if from == nil || peerID == "" {
		return ErrNotCallParticipant
	}

	now := time.Now().UTC()
	key := pairKey(from.UserID, peerID)

	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.calls[key]
	if cs == nil {
		return ErrNoActiveCall
	}

	env := mustEnvelope(v1.TypeCallSignal, v1.CallSignalPayload{
		FromID: from.UserID,
		Signal: signal,
	}, now)
	r.reg.SendToUser(cs.counterpart(from.UserID), env)
	return nil
}

// End hangs up from any non-terminal state and destroys the session. The
// counterpart's channels and the ender's other devices are notified; the
// originating session is skipped because its UI initiated the hangup.
func (r *CallRegistry) End(byUserID, bySessionID, peerID string) error {
	if byUserID == "" || peerID == "" {
		return ErrNotCallParticipant
	}

	now := time.Now().UTC()
	key := pairKey(byUserID, peerID)

	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.calls[key]
	if cs == nil {
		return ErrNoActiveCall
	}

	delete(r.calls, key)
	cs.ringTimer.Stop()
	metricCallsActive.Dec()
	metricCallOutcomes.WithLabelValues("ended").Inc()

	ended := mustEnvelope(v1.TypeCallEnded, v1.CallEndedPayload{FromID: byUserID}, now)
	r.reg.SendToUser(cs.counterpart(byUserID), ended)
	for _, c := range r.reg.SessionsFor(byUserID) {
		if c.SessionID != bySessionID {
			c.TrySend(ended)
		}
	}

	r.log.Info("call.end", "by", byUserID, "peer", peerID, "state", cs.State.String())
	return nil
}

// Fail destroys the pair's session and reports reason to the caller's
// channels as call_error; the callee's channels see call_ended. Signaling
// failures always land on the initiating side, which owns the retry decision.
func (r *CallRegistry) Fail(callerID, calleeID, reason string) error {
	if callerID == "" || calleeID == "" {
		return ErrNotCallParticipant
	}

	key := pairKey(callerID, calleeID)

	r.mu.Lock()
	cs := r.calls[key]
	if cs == nil {
		r.mu.Unlock()
		return ErrNoActiveCall
	}
	r.removeLocked(key, cs, reason)
	r.mu.Unlock()

	r.reportFailure(cs, reason)
	r.log.Info("call.fail", "caller_id", cs.CallerID, "callee_id", cs.CalleeID, "reason", reason)
	return nil
}

// removeLocked destroys a session under r.mu and records the outcome.
func (r *CallRegistry) removeLocked(key string, cs *CallSession, outcome string) {
	delete(r.calls, key)
	cs.ringTimer.Stop()
	metricCallsActive.Dec()
	metricCallOutcomes.WithLabelValues(outcome).Inc()
}

// reportFailure delivers the terminal events of a failed call: call_error to
// the caller, call_ended to the callee.
func (r *CallRegistry) reportFailure(cs *CallSession, reason string) {
	now := time.Now().UTC()

	callErr := mustEnvelope(v1.TypeCallError, v1.CallErrorPayload{
		PeerID: cs.CalleeID,
		Reason: reason,
	}, now)
	r.reg.SendToUser(cs.CallerID, callErr)

	ended := mustEnvelope(v1.TypeCallEnded, v1.CallEndedPayload{FromID: cs.CallerID}, now)
	r.reg.SendToUser(cs.CalleeID, ended)
}

// EndAllFor ends every call a user participates in. Called when the user's
// last session disconnects. Counterparts of accepted calls receive
// call_ended; a caller whose callee vanished while still ringing receives
// call_error instead, so the caller UI distinguishes "hung up" from "lost".
func (r *CallRegistry) EndAllFor(userID string) int {
	if userID == "" {
		return 0
	}

	now := time.Now().UTC()

	r.mu.Lock()
	var (
		counterparts []string
		failed       []*CallSession
	)
	for key, cs := range r.calls {
		if cs.CallerID != userID && cs.CalleeID != userID {
			continue
		}
		r.removeLocked(key, cs, CallReasonPeerLost)
		if cs.State == CallRinging && cs.CalleeID == userID {
			failed = append(failed, cs)
			continue
		}
		counterparts = append(counterparts, cs.counterpart(userID))
	}
	r.mu.Unlock()

	ended := mustEnvelope(v1.TypeCallEnded, v1.CallEndedPayload{FromID: userID}, now)
	for _, peer := range counterparts {
		r.reg.SendToUser(peer, ended)
	}
	for _, cs := range failed {
		r.reportFailure(cs, CallReasonPeerLost)
	}

	total := len(counterparts) + len(failed)
	if total > 0 {
		r.log.Info("call.end_all", "user_id", userID, "count", total)
	}
	return total
}

// ActiveState reports the state of the pair's session, if any. Test and
// introspection helper.
func (r *CallRegistry) ActiveState(a, b string) (CallState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.calls[pairKey(a, b)]
	if cs == nil {
		return 0, false
	}
	return cs.State, true
}

// timeout fires when a ringing call was never answered. The session pointer
// is compared so a timer from a previous call between the same pair can
// never destroy a newer one.
func (r *CallRegistry) timeout(key string, cs *CallSession) {
	r.mu.Lock()
	cur := r.calls[key]
	if cur != cs || cur.State != CallRinging {
		r.mu.Unlock()
		return
	}
	r.removeLocked(key, cs, CallReasonTimeout)
	r.mu.Unlock()

	r.reportFailure(cs, CallReasonTimeout)

	r.log.Info("call.timeout", "caller_id", cs.CallerID, "callee_id", cs.CalleeID)

	if r.notifier != nil {
		b, err := json.Marshal(v1.IncomingCallPayload{CallerID: cs.CallerID, CallerName: cs.CallerName})
		if err == nil {
			ctx, cancel := contextWithTimeout(5 * time.Second)
			defer cancel()
			if err := r.notifier.Notify(ctx, cs.CalleeID, NotifyMissedCall, b); err != nil {
				r.log.Error("call.missed_notify.fail", "callee_id", cs.CalleeID, "err", err)
			}
		}
	}
}

// pairKey builds the unordered-pair key for two user ids.
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}
