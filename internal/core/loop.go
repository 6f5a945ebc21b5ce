// Package core is the orchestration layer.  It runs the event loop
// that multiplexes the operator's keystrokes, the debugger listener and
// the active debugger session, and builds that loop from a Config.
//
// Architecture layers (bottom → top):
//
//	transport / session / dbgp  →  console + command  →  core  →  cmd (CLI)
//
// Everything that blocks (reading stdin, accepting, reading the
// session socket) happens on small helper goroutines that hand their
// result over a channel.  The loop goroutine owns all state and is the
// only one that touches the console, the listener or the session.
package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"dbgpsh/config"
	"dbgpsh/internal/console"
	dberr "dbgpsh/internal/errors"
	"dbgpsh/internal/filter"
	"dbgpsh/internal/metrics"
	"dbgpsh/internal/retry"
	"dbgpsh/internal/session"
	"dbgpsh/internal/transport"
	"dbgpsh/util"
)

// ProtocolFactory builds the protocol handler for a new connection.
type ProtocolFactory func(conn net.Conn) session.Protocol

// Loop is the event loop.  Fill in the fields, then call Run once.
type Loop struct {
	// Config is read again for every listener and every accepted
	// connection, so `set bind|port|accept` apply from then on.
	Config *config.Config

	Console  *console.Console
	Binder   transport.Binder // nil: never listen
	Resolver filter.Resolver  // reverse lookups; nil uses the system resolver

	// Stdin is the operator's input; nil means there is none.
	Stdin io.Reader

	NewProtocol ProtocolFactory

	// StartFile, if set, is submitted once as `start <file>`.
	StartFile string

	// OnShutdown runs on every exit path after the sockets are closed.
	OnShutdown func() error

	IdleTimeout time.Duration // 0 = config.DefaultIdleTimeout

	// AcceptBackoff paces re-listening after consecutive Accept
	// failures.  nil uses DefaultAcceptRetryDelay doubling up to
	// DefaultAcceptRetryMax.
	AcceptBackoff *retry.Backoff

	Metrics *metrics.Collector
	Logger  *util.Logger

	listener       *endpoint
	session        *session.Session
	input          chan session.Chunk
	done           chan struct{}
	acceptFailures int
	relistenAt     time.Time
}

// source identifies where a ready event came from.
type source int

const (
	fromInput source = iota
	fromSession
	fromListener
)

type event struct {
	from     source
	chunk    session.Chunk
	accepted acceptResult
}

// Run serves until the operator quits, stdin ends or ctx is cancelled,
// all of which return nil.  A listener that cannot be bound, or having
// nothing left to wait on, is fatal and returned as an error.  The
// listener, the session and the binder are closed and OnShutdown runs
// on every path.
func (l *Loop) Run(ctx context.Context) error {
	if l.Logger == nil {
		l.Logger = util.NewLogger(0)
	}
	logger := l.Logger.With("loop")
	idle := l.IdleTimeout
	if idle <= 0 {
		idle = config.DefaultIdleTimeout
	}

	if l.AcceptBackoff == nil {
		l.AcceptBackoff = &retry.Backoff{
			InitialDelay: config.DefaultAcceptRetryDelay,
			MaxDelay:     config.DefaultAcceptRetryMax,
			Multiplier:   2,
		}
	}

	l.done = make(chan struct{})
	defer l.teardown()
	l.startInput()

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for !l.Console.Terminated() {
		// 1. Drain messages already buffered by the protocol handler.
		l.drain()

		// 2. Re-listen once neither a listener nor a session exists,
		// unless a failed Accept asked for a pause.
		relisten := l.listener == nil && l.session == nil && l.Binder != nil
		if relisten && !time.Now().Before(l.relistenAt) {
			if err := l.listen(ctx); err != nil {
				return err
			}
			relisten = false
		}

		// 3. One-shot startup command.
		if l.StartFile != "" {
			file := l.StartFile
			l.StartFile = ""
			l.Console.Submit("start " + file)
			if l.Console.Terminated() {
				break
			}
		}

		// 4. Interest set, rebuilt from scratch every turn.  A nil
		// channel is never ready.
		var (
			inputC    <-chan session.Chunk
			sessionC  <-chan session.Chunk
			listenerC <-chan acceptResult
		)
		if l.input != nil {
			inputC = l.input
		}
		if l.session != nil {
			sessionC = l.session.Readable()
		}
		if l.listener != nil {
			listenerC = l.listener.accepted
		}
		if inputC == nil && sessionC == nil && listenerC == nil && !relisten {
			return fmt.Errorf("event loop: %w", dberr.ErrNothingToWait)
		}

		// 5. Prompt, then wait.
		l.Console.Flush()
		l.Console.ShowPrompt()
		wait := idle
		if relisten {
			wait = min(wait, time.Until(l.relistenAt))
		}
		timer.Reset(wait)

		var first event
		select {
		case <-ctx.Done():
			logger.Verbose("stopping: %v", context.Cause(ctx))
			l.Console.Terminate()
			continue
		case <-l.Console.Backlog():
			l.Console.Flush()
			continue
		case <-timer.C:
			if relisten {
				continue
			}
			// 6. Nothing happened for a while.
			l.Metrics.IdleTick()
			logger.Debug("idle for %s", idle)
			continue
		case c := <-inputC:
			first = event{from: fromInput, chunk: c}
		case c := <-sessionC:
			first = event{from: fromSession, chunk: c}
		case r := <-listenerC:
			first = event{from: fromListener, accepted: r}
		}

		// 7. Handle everything that is ready, in a fixed order.
		for _, ev := range collect(first, inputC, sessionC, listenerC) {
			l.handle(ctx, ev)
			if l.Console.Terminated() {
				break
			}
		}
	}
	return nil
}

// collect returns first together with every other source that is ready
// right now, ordered input, session, listener.
func collect(first event, inputC, sessionC <-chan session.Chunk, listenerC <-chan acceptResult) []event {
	events := make([]event, 0, 3)

	if first.from == fromInput {
		events = append(events, first)
	} else {
		select {
		case c := <-inputC:
			events = append(events, event{from: fromInput, chunk: c})
		default:
		}
	}

	if first.from == fromSession {
		events = append(events, first)
	} else {
		select {
		case c := <-sessionC:
			events = append(events, event{from: fromSession, chunk: c})
		default:
		}
	}

	if first.from == fromListener {
		events = append(events, first)
	} else {
		select {
		case r := <-listenerC:
			events = append(events, event{from: fromListener, accepted: r})
		default:
		}
	}
	return events
}

func (l *Loop) handle(ctx context.Context, ev event) {
	switch ev.from {
	case fromInput:
		l.handleInput(ev.chunk)
	case fromSession:
		l.handleSession(ev.chunk)
	case fromListener:
		l.handleAccept(ctx, ev.accepted)
	}
}

// ── Operator input ───────────────────────────────────────────────────

// startInput reads Stdin on a helper goroutine, one chunk at a time.
func (l *Loop) startInput() {
	if l.Stdin == nil {
		return
	}
	l.input = make(chan session.Chunk)
	go func(r io.Reader, out chan<- session.Chunk, done <-chan struct{}) {
		for {
			data, err := util.ReadChunk(r)
			select {
			case out <- session.Chunk{Data: data, Err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}(l.Stdin, l.input, l.done)
}

func (l *Loop) handleInput(c session.Chunk) {
	if len(c.Data) > 0 {
		l.Console.Feed(c.Data)
	}
	if c.Err != nil {
		if !util.IsClosed(c.Err) {
			l.Logger.Warn("reading input: %v", c.Err)
		}
		l.Logger.Verbose("input closed")
		l.input = nil
		l.Console.Terminate()
	}
}

// ── Session ──────────────────────────────────────────────────────────

// drain tears down a session the operator disconnected, then processes
// every complete message the handler already holds.
func (l *Loop) drain() {
	if l.session == nil {
		return
	}
	if l.session.Closed() {
		l.dropSession()
		return
	}
	for l.session.HasPendingData() {
		if out := l.session.PumpPending(); out != session.Continue {
			l.dropSession()
			return
		}
	}
}

func (l *Loop) handleSession(c session.Chunk) {
	if l.session == nil {
		return
	}
	if l.session.Closed() {
		l.dropSession()
		return
	}
	if out := l.session.Pump(c); out != session.Continue {
		l.Logger.Verbose("session ended: %s", out)
		l.dropSession()
	}
}

func (l *Loop) dropSession() {
	s := l.session
	l.session = nil
	l.Console.SetSession(nil)
	if err := s.Err(); err != nil && !util.IsClosed(err) {
		l.Logger.Verbose("session %s: %v", s.ID, err)
	}
	s.Close() //nolint:errcheck
	if s.Disconnected() {
		l.Logger.Verbose("session %s closed by the operator", s.ID)
		l.Console.Notice(console.Muted, "Debugger Disconnected")
		return
	}
	l.Logger.Verbose("session %s closed by the engine", s.ID)
	l.Console.Notice(console.Warning, "Debugger Disconnected")
}

// ── Teardown ─────────────────────────────────────────────────────────

func (l *Loop) teardown() {
	close(l.done)
	l.closeListener()
	if l.session != nil {
		l.session.Close() //nolint:errcheck
		l.session = nil
		l.Console.SetSession(nil)
	}
	if l.Binder != nil {
		if err := l.Binder.Close(); err != nil {
			l.Logger.Debug("closing %s: %v", l.Binder, err)
		}
	}
	if l.OnShutdown != nil {
		if err := l.OnShutdown(); err != nil {
			l.Logger.Warn("shutdown: %v", err)
		}
	}
	l.Console.Flush()
}
