package realtime

import "time"

// Security/performance limits for the realtime gateway.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxMessageChars = 4000

	// Max accepted bearer token length.
	maxTokenBytes = 4096
)

const (
	// Typing indicators self-expire after this idle window unless refreshed.
	defaultTypingTTL = 2 * time.Second

	// An unanswered call rings at most this long before it fails with a timeout.
	defaultRingTimeout = 45 * time.Second
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
