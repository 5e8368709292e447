package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"PULSE_HTTP_ADDR", "PULSE_LOG_FORMAT",
		"PULSE_TYPING_TTL", "PULSE_CALL_RING_TIMEOUT",
		"PULSE_DB_SCHEMA", "PULSE_DB_CONN_MAX_LIFETIME",
		"PULSE_CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat=%q", cfg.LogFormat)
	}
	if cfg.TypingTTL != 2*time.Second {
		t.Fatalf("TypingTTL=%v", cfg.TypingTTL)
	}
	if cfg.RingTimeout != 45*time.Second {
		t.Fatalf("RingTimeout=%v", cfg.RingTimeout)
	}
	if cfg.DBSchema != "pulse" {
		t.Fatalf("DBSchema=%q", cfg.DBSchema)
	}
	if cfg.DBConnMaxLifetime != 30*time.Minute {
		t.Fatalf("DBConnMaxLifetime=%v", cfg.DBConnMaxLifetime)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PULSE_TYPING_TTL", "3s")
	t.Setenv("PULSE_CALL_RING_TIMEOUT", "20s")
	t.Setenv("PULSE_CORS_ALLOWED_ORIGINS", "https://app.pulse.example, https://admin.pulse.example")
	t.Setenv("PULSE_DB_HEALTHCHECK_PERIOD", "15s")

	cfg := LoadConfig()

	if cfg.TypingTTL != 3*time.Second {
		t.Fatalf("TypingTTL=%v", cfg.TypingTTL)
	}
	if cfg.RingTimeout != 20*time.Second {
		t.Fatalf("RingTimeout=%v", cfg.RingTimeout)
	}
	if cfg.DBHealthCheckPeriod != 15*time.Second {
		t.Fatalf("DBHealthCheckPeriod=%v", cfg.DBHealthCheckPeriod)
	}
	want := []string{"https://app.pulse.example", "https://admin.pulse.example"}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != want[0] || cfg.CORSAllowedOrigins[1] != want[1] {
		t.Fatalf("CORSAllowedOrigins=%v want=%v", cfg.CORSAllowedOrigins, want)
	}
}
