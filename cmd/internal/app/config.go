package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Pool hygiene: recycle long-lived connections and health-check idle ones so a
	// relay that mostly sits on WebSockets does not hold stale DB conns.
	DBConnMaxLifetime   time.Duration
	DBConnMaxIdleTime   time.Duration
	DBHealthCheckPeriod time.Duration

	// Browser-origin policy for the HTTP surface. Entries are full origins
	// and may end in ":*" to allow any port on that host.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Realtime semantics.
	TypingTTL   time.Duration
	RingTimeout time.Duration

	// Dev/test identities for the in-memory mode, in the
	// token:user_id:display_name[,...] format.
	StaticTokens string

	// Dev/test conversations for the in-memory mode, in the
	// conversation_id:user_a|user_b[,...] format.
	StaticConversations string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, PULSE_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and bearer-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PULSE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PULSE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PULSE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PULSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PULSE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PULSE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PULSE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PULSE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PULSE_DATABASE_URL", ""),
		DBSchema:    EnvString("PULSE_DB_SCHEMA", "pulse"),
		DBMaxConns:  EnvInt32("PULSE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PULSE_DB_MIN_CONNS", 0),

		DBConnMaxLifetime:   EnvDuration("PULSE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime:   EnvDuration("PULSE_DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		DBHealthCheckPeriod: EnvDuration("PULSE_DB_HEALTHCHECK_PERIOD", time.Minute),

		CORSAllowedOrigins:   EnvCSV("PULSE_CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		CORSAllowCredentials: EnvBool("PULSE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PULSE_CORS_MAX_AGE", 600),

		TypingTTL:   EnvDuration("PULSE_TYPING_TTL", 2*time.Second),
		RingTimeout: EnvDuration("PULSE_CALL_RING_TIMEOUT", 45*time.Second),

		StaticTokens:        EnvString("PULSE_STATIC_TOKENS", ""),
		StaticConversations: EnvString("PULSE_STATIC_CONVERSATIONS", ""),

		ReadinessRequireDB: EnvBool("PULSE_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("PULSE_REQUIRE_TOKEN_HMAC", false),
	}
}
