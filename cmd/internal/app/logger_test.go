package app

import (
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_FormatSelectsHandler(t *testing.T) {
	t.Parallel()

	if _, ok := NewLogger("info", "pretty").Handler().(*prettyHandler); !ok {
		t.Fatalf("format=pretty must select the pretty handler")
	}
	if _, ok := NewLogger("info", "json").Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("format=json must select the JSON handler")
	}
	// Unrecognized formats fall back to JSON for log pipelines.
	if _, ok := NewLogger("info", "fancy").Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("unknown format must fall back to JSON")
	}
}
