package util

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsClosed reports whether err means the peer (or we) closed the
// connection, as opposed to a genuine I/O failure.  A debugger engine
// that finishes its script simply hangs up, so these are end-of-stream
// conditions rather than errors.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
