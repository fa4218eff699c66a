package smtpstub

import (
	"errors"
	"fmt"
)

// BindError means the listener could not bind its address, usually because
// another process holds it without SO_REUSEADDR.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("can't bind %v: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError means the listener failed while waiting for a client.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("can't accept a connection: %v", e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// IOError wraps a read or write failure in the middle of a session. Op is
// "read" or "write".
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("session %v failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrLineTooLong ends a session whose client sent more than MaxLineLength
// bytes without a line break.
var ErrLineTooLong = errors.New("line is too long")
