package core

import (
	"context"
	"fmt"
	"net"
	"time"

	"dbgpsh/config"
	"dbgpsh/internal/console"
	dberr "dbgpsh/internal/errors"
	"dbgpsh/internal/filter"
	"dbgpsh/internal/session"
	"dbgpsh/util"
)

// endpoint is an open listener with its single pending Accept.
type endpoint struct {
	ln       net.Listener
	accepted chan acceptResult // buffered: the accept goroutine never blocks
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// listen opens a listener and starts waiting for one connection.  A
// bind failure is returned to Run and ends the program.
func (l *Loop) listen(ctx context.Context) error {
	addr := l.Config.ListenAddress()
	ln, err := l.Binder.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("cannot listen on %s (%s): %w", addr, l.Binder, err)
	}
	l.Metrics.ListenerOpened()
	l.Logger.Verbose("listening on %s", ln.Addr())

	ep := &endpoint{ln: ln, accepted: make(chan acceptResult, 1)}
	go func() {
		conn, err := ln.Accept()
		ep.accepted <- acceptResult{conn: conn, err: err}
	}()
	l.listener = ep
	return nil
}

// closeListener closes the listener, which also releases an Accept
// still waiting on it.  A connection accepted at the same moment is
// closed too.
func (l *Loop) closeListener() {
	ep := l.listener
	if ep == nil {
		return
	}
	l.listener = nil
	ep.ln.Close() //nolint:errcheck
	select {
	case r := <-ep.accepted:
		if r.conn != nil {
			r.conn.Close() //nolint:errcheck
		}
	default:
	}
}

// handleAccept runs when the listener produced a connection.  Only one
// session is served at a time, so the listener is closed first either
// way; the loop opens a new one once there is no session.
func (l *Loop) handleAccept(ctx context.Context, r acceptResult) {
	if ep := l.listener; ep != nil {
		l.listener = nil
		ep.ln.Close() //nolint:errcheck
	}
	if r.err != nil {
		if !util.IsClosed(r.err) {
			l.acceptFailed(r.err)
		}
		return
	}
	l.acceptFailures = 0
	if l.session != nil {
		// Cannot happen while the listener is closed during sessions.
		r.conn.Close() //nolint:errcheck
		return
	}

	if pattern := l.Config.Accept; pattern != "" {
		f := filter.New(pattern, config.DefaultResolveTimeout, l.Logger)
		f.Resolver = l.Resolver
		v := f.Admit(ctx, r.conn.RemoteAddr())
		if !v.Admitted {
			l.Metrics.ConnectionRejected()
			l.Console.Notice(console.Warning,
				fmt.Sprintf("Rejected connection from %s [%s]", v.Host, v.IP))
			r.conn.Close() //nolint:errcheck
			return
		}
	}

	l.Logger.Verbose("debugger connected from %s", r.conn.RemoteAddr())
	l.session = session.New(r.conn, l.NewProtocol(r.conn), l.Logger, l.Metrics)
	l.Console.SetSession(l.session)
}

// acceptFailed schedules the next listener after an Accept error.  A
// temporary condition (running out of descriptors, say) is retried
// with a growing pause so it cannot spin the loop.
func (l *Loop) acceptFailed(err error) {
	l.Metrics.RecordError(err.Error())
	l.acceptFailures++
	wait := l.AcceptBackoff.Delay(l.acceptFailures)
	l.relistenAt = time.Now().Add(wait)

	level := console.Failure
	if dberr.IsRetryable(err) {
		level = console.Warning
	}
	l.Console.Notice(level, fmt.Sprintf("Accept failed: %v (listening again in %s)",
		err, wait.Truncate(time.Millisecond)))
}
