package syncclient

import (
	"net/http"
	"time"
)

// Config controls how the client connects and resumes.
type Config struct {
	URL              string
	Header           http.Header // sent on every dial, e.g. Origin
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration // how long create/join wait for the ack

	// Reconnect backoff. ReconnectMaxElapsed of 0 retries forever.
	ReconnectMin        time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxElapsed time.Duration

	// ResyncDelay is the pause between a replayed join and the sync-request
	// that follows it.
	ResyncDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		RequestTimeout:   10 * time.Second,
		ReconnectMin:     250 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		ResyncDelay:      500 * time.Millisecond,
	}
}
