// Package transport decides where the debugger listener lives.  A
// Binder opens a fresh listening endpoint each time the console needs
// one: on a local address, or on an SSH gateway near the engine.
// What travels over the accepted connections is the session layer's
// business.
package transport

import (
	"context"
	"net"
)

// Binder opens listening endpoints for inbound debugger connections.
// The console closes its listener as soon as one connection arrives
// and asks the Binder for a new one when that session ends.  The
// address is passed on every call since the operator may change it
// between sessions.
type Binder interface {
	// Listen opens a new listener on address (host:port).
	Listen(ctx context.Context, address string) (net.Listener, error)

	// Close releases long-lived resources held by the binder (e.g. an
	// SSH connection).  Stateless binders return nil.
	Close() error

	// String names where listeners are opened, for notices.
	String() string
}
