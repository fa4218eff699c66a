package smtpstub

import (
	"strings"
	"time"
)

// Message is what a client sent between "354" and the lone ".". It exists
// only so a test harness can look at it; the stub never delivers or stores
// it.
type Message struct {
	SessionID string
	Received  time.Time
	// Lines excludes the terminator and has dot-stuffing undone.
	Lines []string
	// Truncated is set when the message ran past MaxMessageSize and later
	// lines were dropped from Lines.
	Truncated bool
}

// Body joins Lines with CRLF, the way they crossed the wire.
func (m Message) Body() string {
	return strings.Join(m.Lines, crlf)
}

// MessageSink receives each captured Message. Implementations must be safe
// for concurrent use when the Listener runs in Loop mode.
type MessageSink interface {
	Deliver(Message) error
}
