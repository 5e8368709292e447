package app

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSITest(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

func TestPrettyHandler_Handle_Plain(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug}, false)

	r := slog.NewRecord(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), slog.LevelInfo, "ws.accept", 0)
	r.AddAttrs(
		slog.String("session_id", "s-1"),
		slog.Int("status", 200),
	)

	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}

	out := sb.String()
	for _, want := range []string{"lvl=[INFO]", "msg=ws.accept", "session_id=s-1", "status=200"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("plain mode emitted ANSI: %q", out)
	}
}

func TestPrettyHandler_Handle_ColorStrips(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, true)

	r := slog.NewRecord(time.Now(), slog.LevelError, "http.request", 0)
	r.AddAttrs(
		slog.String("method", "delete"),
		slog.Int("status", 503),
		slog.Int64("duration_ms", 1500),
	)

	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}

	raw := sb.String()
	if !strings.Contains(raw, ansiRed) {
		t.Fatalf("expected red ANSI for 5xx/error output: %q", raw)
	}

	out := stripANSITest(raw)
	for _, want := range []string{"lvl=[ERROR]", "method=DELETE", "status=503", "duration=1500ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestPrettyHandler_GroupsPrefixKeys(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, false).
		WithGroup("db").
		WithAttrs([]slog.Attr{slog.String("pool", "pgx")})

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "db.connect", 0)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if !strings.Contains(sb.String(), "db.pool=pgx") {
		t.Fatalf("output %q missing grouped key", sb.String())
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestPrettyEventName_TintsDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		tint string
	}{
		{msg: "ws.accept", tint: ansiCyan},
		{msg: "call.timeout", tint: ansiMagenta},
		{msg: "presence.online", tint: ansiGreen},
		{msg: "db.enabled.postgres_store", tint: ansiBlue},
		{msg: "auth.static_verifier", tint: ansiYellow},
	}
	for _, tc := range cases {
		got := prettyEventName(tc.msg, true)
		if !strings.HasPrefix(got, tc.tint) {
			t.Fatalf("prettyEventName(%q)=%q want %q tint", tc.msg, got, tc.tint)
		}
		if stripANSITest(got) != tc.msg {
			t.Fatalf("prettyEventName(%q) altered text: %q", tc.msg, stripANSITest(got))
		}
	}

	if got := prettyEventName("ws.accept", false); got != "ws.accept" {
		t.Fatalf("plain mode must not decorate: %q", got)
	}
}

func TestPrettyHandler_RemapsRealtimeKeys(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, false)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "relay.send", 0)
	r.AddAttrs(
		slog.String("conversation_id", "c-1"),
		slog.String("session_id", "s-a1"),
	)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, "conv=c-1") || !strings.Contains(out, "session=s-a1") {
		t.Fatalf("output %q missing remapped keys", out)
	}
	if strings.Contains(out, "conversation_id=") {
		t.Fatalf("output %q kept the raw key", out)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "has space", want: `"has space"`},
		{in: `k=v`, want: `"k=v"`},
	}
	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestColorizeStatusCode(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(204, false); got != "204" {
		t.Fatalf("plain status=%q", got)
	}
	if got := colorizeStatusCode(500, true); !strings.Contains(got, ansiRed) {
		t.Fatalf("5xx not red: %q", got)
	}
	if got := colorizeStatusCode(201, true); !strings.Contains(got, ansiGreen) {
		t.Fatalf("2xx not green: %q", got)
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	if n, ok := valueToInt64(slog.IntValue(42).Resolve()); !ok || n != 42 {
		t.Fatalf("int: n=%d ok=%v", n, ok)
	}
	if n, ok := valueToInt64(slog.StringValue(" 7 ")); !ok || n != 7 {
		t.Fatalf("string: n=%d ok=%v", n, ok)
	}
	if _, ok := valueToInt64(slog.StringValue("nope")); ok {
		t.Fatalf("expected parse failure")
	}
}
