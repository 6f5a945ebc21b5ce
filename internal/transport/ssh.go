package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	dberr "dbgpsh/internal/errors"
	"dbgpsh/internal/retry"
	"dbgpsh/tunnel"
	"dbgpsh/util"
)

// SSHBinder opens the listener on an SSH gateway with remote port
// forwarding.  If the gateway connection has dropped since the last
// listener, it is re-established with exponential backoff first.
type SSHBinder struct {
	gateway tunnel.Gateway
	backoff *retry.Backoff
	logger  *util.Logger
}

// NewSSHBinder returns a binder that listens at gw.  The gateway may
// already be connected; a nil backoff uses the defaults.
func NewSSHBinder(gw tunnel.Gateway, backoff *retry.Backoff, logger *util.Logger) *SSHBinder {
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}
	b := &SSHBinder{
		gateway: gw,
		backoff: backoff,
		logger:  logger.With("binder"),
	}
	if backoff.Notify == nil {
		backoff.Notify = func(attempt int, err error, wait time.Duration) {
			b.logger.Warn("gateway attempt %d failed: %v (retrying in %s)",
				attempt, err, wait.Truncate(time.Millisecond))
		}
	}
	return b
}

// Listen reconnects the gateway if needed and asks it to listen on
// address, which is interpreted on the gateway.
func (b *SSHBinder) Listen(ctx context.Context, address string) (net.Listener, error) {
	if !b.gateway.IsAlive() {
		b.logger.Verbose("connecting to gateway %s", b.gateway)
		err := b.backoff.Do(ctx, func(int) error {
			err := b.gateway.Connect(ctx)
			if isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	ln, err := b.gateway.Listen("tcp", address)
	if err != nil {
		return nil, dberr.Wrap("listen", fmt.Sprintf("%s via %s", address, b.gateway), err)
	}
	return ln, nil
}

// Close tears down the gateway connection.
func (b *SSHBinder) Close() error { return b.gateway.Close() }

func (b *SSHBinder) String() string {
	return fmt.Sprintf("ssh gateway %s", b.gateway)
}

// isPermanent reports whether a gateway failure cannot be fixed by
// trying again: bad credentials or an unknown host key.
func isPermanent(err error) bool {
	var se *dberr.SSHError
	if !dberr.As(err, &se) {
		return false
	}
	return se.Op == "auth" || se.Op == "hostkey"
}
