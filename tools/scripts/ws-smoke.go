// Package main provides a CI-friendly WebSocket smoke test for Pulse realtime.
//
// It validates, against a server running in in-memory mode:
//   - handshake + subprotocol selection + bearer auth
//   - hello_ack session establishment
//   - presence snapshot fanout (get_online_users)
//   - typing indicator fanout and stop
//   - send -> receive_message on both participants
//   - call offer/answer/signal/hangup round-trip
//
// Expected server env:
//
//	PULSE_STATIC_TOKENS="tok-a:alice:Alice,tok-b:bob:Bob"
//	PULSE_STATIC_CONVERSATIONS="dev-room-1:alice|bob"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "pulse.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "tok-a", "Bearer token for client A")
		tokenB  = flag.String("token-b", "tok-b", "Bearer token for client B")
		userA   = flag.String("user-a", "alice", "Expected user id behind token A")
		userB   = flag.String("user-b", "bob", "Expected user id behind token B")
		convID  = flag.String("conv", "dev-room-1", "Conversation ID both users belong to")
		text    = flag.String("text", "hello pulse 👋", "Message content to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *userA, *wsURL, *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, *wsURL, *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	// B came online after A, so A must observe a snapshot containing both.
	mustSeePresence(root, a, []string{*userA, *userB}, *timeout)

	mustViewConversation(root, a, *convID, *timeout)
	mustViewConversation(root, b, *convID, *timeout)

	// Typing: A types, B sees it; A stops, B sees the stop.
	mustSend(root, a, v1.TypeTyping, v1.TypingPayload{ConversationID: *convID}, *timeout)
	mustSeeTyping(root, b, *convID, *userA, true, *timeout)
	mustSend(root, a, v1.TypeStopTyping, v1.TypingPayload{ConversationID: *convID}, *timeout)
	mustSeeTyping(root, b, *convID, *userA, false, *timeout)

	// Relay: A sends, both A and B receive the message with the same seq.
	mustSend(root, a, v1.TypeSendMessage, v1.SendMessagePayload{
		ConversationID: *convID,
		Content:        *text,
		ContentType:    "text",
	}, *timeout)
	got := mustSeeMessage(root, b, *convID, *userA, *text, *timeout)
	echo := mustSeeMessage(root, a, *convID, *userA, *text, *timeout)
	if echo.Seq != got.Seq || echo.MessageID != got.MessageID {
		fatalf("fanout mismatch: A got seq=%d id=%s, B got seq=%d id=%s",
			echo.Seq, echo.MessageID, got.Seq, got.MessageID)
	}

	// Call: A offers, B sees the offer, answers, both exchange a signal, A hangs up.
	offer := json.RawMessage(`{"sdp":"offer"}`)
	answer := json.RawMessage(`{"sdp":"answer"}`)
	candidate := json.RawMessage(`{"candidate":"c1"}`)

	mustSend(root, a, v1.TypeCallUser, v1.CallRequestPayload{CalleeID: *userB, Signal: offer}, *timeout)
	mustSeeIncomingCall(root, b, *userA, *timeout)

	mustSend(root, b, v1.TypeAnswerCall, v1.AnswerCallPayload{CallerID: *userA, Signal: answer}, *timeout)
	mustSeeCallAccepted(root, a, *userB, *timeout)

	mustSend(root, a, v1.TypeCallSignal, v1.CallSignalPayload{PeerID: *userB, Signal: candidate}, *timeout)
	mustSeeCallSignal(root, b, *userA, *timeout)

	mustSend(root, a, v1.TypeCallEnded, v1.CallEndedPayload{PeerID: *userB}, *timeout)
	mustSeeCallEnded(root, b, *userA, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s seq=%d message_id=%s\n",
		a.sessionID, b.sessionID, *convID, got.Seq, got.MessageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if p.UserID != userID {
		fatalf("hello_ack user mismatch (%s): got=%q want=%q", name, p.UserID, userID)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSend(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustViewConversation(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	mustSend(parent, c, v1.TypeJoinConversation, v1.JoinConversationPayload{ConversationID: convID}, stepTimeout)
}

func mustSeePresence(parent context.Context, c *smokeClient, wantUsers []string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fatalf("timeout waiting for presence snapshot with %v (%s)", wantUsers, c.name)
		}

		env := c.mustReadUntilType(parent, v1.TypeOnlineUsers, remaining, nil)

		var p v1.OnlineUsersPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal get_online_users payload (%s): %v", c.name, err)
		}

		have := make(map[string]bool, len(p.UserIDs))
		for _, u := range p.UserIDs {
			have[u] = true
		}
		all := true
		for _, w := range wantUsers {
			if !have[w] {
				all = false
				break
			}
		}
		if all {
			return
		}
		// Earlier snapshot from before everyone connected; keep reading.
	}
}

func mustSeeTyping(parent context.Context, c *smokeClient, convID, userID string, start bool, stepTimeout time.Duration) {
	wantType := v1.TypeUserTyping
	if !start {
		wantType = v1.TypeUserStopTyping
	}

	env := c.mustReadUntilType(parent, wantType, stepTimeout, map[string]struct{}{
		v1.TypeOnlineUsers: {},
	})

	var p v1.UserTypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %s payload (%s): %v", wantType, c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("%s conv_id mismatch (%s): got=%q want=%q", wantType, c.name, p.ConversationID, convID)
	}
	if p.UserID != userID {
		fatalf("%s user mismatch (%s): got=%q want=%q", wantType, c.name, p.UserID, userID)
	}
}

func mustSeeMessage(parent context.Context, c *smokeClient, convID, senderID, content string, stepTimeout time.Duration) v1.MessagePayload {
	env := c.mustReadUntilType(parent, v1.TypeReceiveMessage, stepTimeout, map[string]struct{}{
		v1.TypeOnlineUsers:    {},
		v1.TypeUserTyping:     {},
		v1.TypeUserStopTyping: {},
	})

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal receive_message payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("receive_message conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.SenderID != senderID {
		fatalf("receive_message sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Content != content {
		fatalf("receive_message content mismatch (%s): got=%q want=%q", c.name, p.Content, content)
	}
	if p.Seq <= 0 {
		fatalf("receive_message invalid seq (%s): %d", c.name, p.Seq)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		fatalf("receive_message missing message_id (%s)", c.name)
	}
	if p.CreatedAt.IsZero() {
		fatalf("receive_message created_at missing/zero (%s)", c.name)
	}
	return p
}

func mustSeeIncomingCall(parent context.Context, c *smokeClient, callerID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeCallUser, stepTimeout, passiveTypes())

	var p v1.IncomingCallPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal call_user payload (%s): %v", c.name, err)
	}
	if p.CallerID != callerID {
		fatalf("call_user caller mismatch (%s): got=%q want=%q", c.name, p.CallerID, callerID)
	}
	if len(p.Signal) == 0 {
		fatalf("call_user missing signal (%s)", c.name)
	}
}

func mustSeeCallAccepted(parent context.Context, c *smokeClient, calleeID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeCallAccepted, stepTimeout, passiveTypes())

	var p v1.CallAcceptedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal call_accepted payload (%s): %v", c.name, err)
	}
	if p.CalleeID != calleeID {
		fatalf("call_accepted callee mismatch (%s): got=%q want=%q", c.name, p.CalleeID, calleeID)
	}
	if len(p.Signal) == 0 {
		fatalf("call_accepted missing signal (%s)", c.name)
	}
}

func mustSeeCallSignal(parent context.Context, c *smokeClient, fromID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeCallSignal, stepTimeout, passiveTypes())

	var p v1.CallSignalPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal call_signal payload (%s): %v", c.name, err)
	}
	if p.FromID != fromID {
		fatalf("call_signal from mismatch (%s): got=%q want=%q", c.name, p.FromID, fromID)
	}
	if len(p.Signal) == 0 {
		fatalf("call_signal missing signal (%s)", c.name)
	}
}

func mustSeeCallEnded(parent context.Context, c *smokeClient, fromID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeCallEnded, stepTimeout, passiveTypes())

	var p v1.CallEndedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal call_ended payload (%s): %v", c.name, err)
	}
	if p.FromID != fromID {
		fatalf("call_ended from mismatch (%s): got=%q want=%q", c.name, p.FromID, fromID)
	}
}

// passiveTypes lists server events that may interleave with any step.
func passiveTypes() map[string]struct{} {
	return map[string]struct{}{
		v1.TypeOnlineUsers:    {},
		v1.TypeUserTyping:     {},
		v1.TypeUserStopTyping: {},
		v1.TypeReceiveMessage: {},
		v1.TypeNotification:   {},
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == v1.TypeCallError {
				var ep v1.CallErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("call error (%s): peer=%q reason=%q", c.name, ep.PeerID, ep.Reason)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
