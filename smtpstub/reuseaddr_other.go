//go:build !unix

package smtpstub

import "syscall"

// SO_REUSEADDR means something else on Windows (it lets a second listener
// steal the port), so we leave the socket alone there.
func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
