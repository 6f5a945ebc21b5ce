// Package tunnel lets the debugger listener live on a remote SSH host.
//
// A DBGp engine always connects out to its client.  When the engine
// runs on a server that cannot reach the operator's machine, the
// console asks an SSH gateway near the engine to listen on its behalf
// (remote port forwarding) and receives each forwarded connection as
// an ordinary [net.Conn].
package tunnel

import (
	"context"
	"net"
)

// Gateway is an authenticated connection to a host that can open
// listeners for us.
type Gateway interface {
	// Connect establishes (or re-establishes) the gateway connection.
	Connect(ctx context.Context) error

	// Listen asks the gateway to listen on address and returns a
	// listener that yields the forwarded connections.
	Listen(network, address string) (net.Listener, error)

	// Close tears down the gateway and every listener opened on it.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
