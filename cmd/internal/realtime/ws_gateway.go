package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"pulse/cmd/internal/auth"
	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "pulse.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for Pulse realtime.
//
// It enforces origin policy, subprotocol selection, authentication of the
// handshake credential, rate limits, and heartbeats, and routes validated
// envelopes into the Core. No event is routed before the bearer credential
// verifies; an invalid or expired credential fails the handshake.
type WSGateway struct {
	log      *slog.Logger
	core     *Core
	verifier auth.Verifier

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, core *Core, verifier auth.Verifier) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &WSGateway{log: log, core: core, verifier: verifier}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PULSE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PULSE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PULSE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PULSE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PULSE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PULSE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PULSE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PULSE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PULSE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PULSE_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates and upgrades an HTTP request to a WebSocket session
// and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authentication happens before any event routing is permitted.
	token := bearerToken(r)
	if token == "" || len(token) > maxTokenBytes {
		g.log.Info("ws.reject.auth", "reason", "missing_token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	identity, err := g.verifier.Verify(r.Context(), token, time.Now().UTC())
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	sessionID, err := NewULID(now)
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	client := NewClient(identity.UserID, identity.DisplayName, sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Disconnect cleanup (session removal, implicit stop_typing, call
	// teardown, presence update) runs before the channel is signaled closed,
	// so no later broadcast can race a dead channel.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.core.HandleDisconnect(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// The ack precedes the presence snapshot the registration sends.
	client.TrySend(mustEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID: sessionID,
		UserID:    identity.UserID,
	}, now))

	g.core.HandleConnect(client)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeJoinConversation:
			g.onJoinConversation(client, env)

		case v1.TypeSendMessage:
			g.onSendMessage(ctx, client, env)

		case v1.TypeTyping:
			g.onTyping(ctx, client, env, true)

		case v1.TypeStopTyping:
			g.onTyping(ctx, client, env, false)

		case v1.TypeCallUser:
			g.onCallUser(client, env)

		case v1.TypeAnswerCall:
			g.onAnswerCall(client, env)

		case v1.TypeCallSignal:
			g.onCallSignal(client, env)

		case v1.TypeCallEnded:
			g.onCallEnded(client, env)

		default:
			g.trySendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onJoinConversation(client *Client, env v1.Envelope) {
	var p v1.JoinConversationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	// An empty id means the client left its conversation view.
	client.SetViewing(strings.TrimSpace(p.ConversationID))
}

func (g *WSGateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	if _, err := g.core.Relay.Send(ctx, client, strings.TrimSpace(p.ConversationID), p.Content, p.ContentType); err != nil {
		switch {
		case errors.Is(err, ErrNotMember):
			g.trySendError(client, "not_member", "not a conversation member")
		case errors.Is(err, ErrConversationNotFound):
			g.trySendError(client, "unknown_conversation", "conversation not found")
		case errors.Is(err, ErrEmptyContent):
			g.trySendError(client, "empty_content", "message content is empty")
		case errors.Is(err, ErrMessageTooLong):
			g.trySendError(client, "message_too_long", err.Error())
		default:
			g.log.Error("ws.send_message.fail", "session_id", client.SessionID, "err", err)
			g.trySendError(client, "send_failed", "message not relayed")
		}
	}
}

func (g *WSGateway) onTyping(ctx context.Context, client *Client, env v1.Envelope, start bool) {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	conversationID := strings.TrimSpace(p.ConversationID)
	if conversationID == "" {
		g.trySendError(client, "bad_payload", "missing conversation_id")
		return
	}

	var err error
	if start {
		err = g.core.StartTyping(ctx, client, conversationID)
	} else {
		err = g.core.StopTyping(ctx, client, conversationID)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotMember), errors.Is(err, ErrConversationNotFound):
			g.trySendError(client, "not_member", "not a conversation member")
		default:
			g.log.Error("ws.typing.fail", "session_id", client.SessionID, "err", err)
		}
	}
}

func (g *WSGateway) onCallUser(client *Client, env v1.Envelope) {
	var p v1.CallRequestPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	err := g.core.Calls.Initiate(client, strings.TrimSpace(p.CalleeID), p.Signal)
	switch {
	case err == nil:
	case errors.Is(err, ErrCallBusy):
		g.sendCallError(client, p.CalleeID, CallReasonBusy)
	case errors.Is(err, ErrCalleeUnreachable):
		g.sendCallError(client, p.CalleeID, CallReasonUnreachable)
	default:
		g.trySendError(client, "call_failed", err.Error())
	}
}

func (g *WSGateway) onAnswerCall(client *Client, env v1.Envelope) {
	var p v1.AnswerCallPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	err := g.core.Calls.Accept(client, strings.TrimSpace(p.CallerID), p.Signal)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoActiveCall):
		g.sendCallError(client, p.CallerID, "not_found")
	case errors.Is(err, ErrCallAlreadyAccepted):
		g.sendCallError(client, p.CallerID, "already_accepted")
	default:
		g.trySendError(client, "call_failed", err.Error())
	}
}

func (g *WSGateway) onCallSignal(client *Client, env v1.Envelope) {
	var p v1.CallSignalPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	if err := g.core.Calls.Signal(client, strings.TrimSpace(p.PeerID), p.Signal); err != nil {
		if errors.Is(err, ErrNoActiveCall) {
			g.sendCallError(client, p.PeerID, "not_found")
			return
		}
		g.trySendError(client, "call_failed", err.Error())
	}
}

func (g *WSGateway) onCallEnded(client *Client, env v1.Envelope) {
	var p v1.CallEndedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(client, "bad_payload", "invalid payload")
		return
	}

	// Hanging up an already-gone call is a no-op, not an error.
	if err := g.core.Calls.End(client.UserID, client.SessionID, strings.TrimSpace(p.PeerID)); err != nil && !errors.Is(err, ErrNoActiveCall) {
		g.trySendError(client, "call_failed", err.Error())
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(client *Client, code, msg string) {
	client.TrySend(mustEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC()))
}

func (g *WSGateway) sendCallError(client *Client, peerID, reason string) {
	client.TrySend(mustEnvelope(v1.TypeCallError, v1.CallErrorPayload{
		PeerID: peerID,
		Reason: reason,
	}, time.Now().UTC()))
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- auth helpers ----

// bearerToken extracts the opaque credential from the Authorization header
// or, because browsers cannot set headers on WebSocket dials, from the token
// query parameter.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
