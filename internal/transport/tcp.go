package transport

import (
	"context"
	"net"
	"time"

	dberr "dbgpsh/internal/errors"
)

// TCPBinder listens on local TCP addresses.
type TCPBinder struct {
	KeepAlive time.Duration // for accepted connections; 0 = runtime default
}

// Listen binds address.  Address reuse is enabled by the runtime, so a
// listener can be re-created on the same port while the previous
// session's socket is still in TIME_WAIT.
func (b *TCPBinder) Listen(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: b.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, dberr.Wrap("listen", address, err)
	}
	return ln, nil
}

// Close is a no-op for TCP binders.
func (b *TCPBinder) Close() error { return nil }

func (b *TCPBinder) String() string { return "local tcp" }
