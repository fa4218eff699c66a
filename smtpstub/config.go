package smtpstub

import (
	"time"

	"github.com/docker/go-units"
)

const (
	// DefaultAddress is where the stub listens unless told otherwise.
	DefaultAddress = "127.0.0.1:1025"
	// DefaultGreetingDelay gives the client time to finish connecting
	// before the 220 line goes out.
	DefaultGreetingDelay = 100 * time.Millisecond
	// DefaultMaxMessageSize bounds how much DATA we capture per message.
	// The dialogue itself is never affected by the bound.
	DefaultMaxMessageSize int64 = 100 * units.MiB
	// DefaultMaxLineLength bounds a single line, CRLF included. RFC 5321
	// allows 1000 bytes; we take far more before giving up on a client.
	DefaultMaxLineLength = 64 * units.KiB
)

// Config holds everything a Listener and its Sessions need. The bind address
// lives here rather than in a package variable so that several stubs can run
// in one process.
type Config struct {
	Address       string
	GreetingDelay time.Duration
	// ReadTimeout bounds the wait for each client line. Zero waits forever.
	ReadTimeout time.Duration
	// Loop keeps accepting after a session ends instead of returning.
	Loop bool
	// MaxSessions caps concurrent sessions in Loop mode.
	MaxSessions    int
	MaxMessageSize int64
	// MaxLineLength bounds how much we buffer while waiting for a line
	// break.
	MaxLineLength int
}

// DefaultConfig returns the configuration that reproduces the reference
// behavior: one session on 127.0.0.1:1025 after a 100ms greeting delay.
func DefaultConfig() Config {
	return Config{
		Address:        DefaultAddress,
		GreetingDelay:  DefaultGreetingDelay,
		MaxSessions:    1,
		MaxMessageSize: DefaultMaxMessageSize,
		MaxLineLength:  DefaultMaxLineLength,
	}
}

// withDefaults fills in the fields whose zero value is unusable. A zero
// GreetingDelay is legitimate and left alone.
func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.MaxSessions < 1 {
		c.MaxSessions = 1
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	return c
}
