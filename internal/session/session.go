// Package session wraps the one active debugger connection.
//
// A Session pairs the accepted net.Conn with the protocol handler that
// interprets its bytes.  Reading is done by a helper goroutine that
// reads one chunk at a time and hands it to the owner over a channel;
// everything else (feeding the handler, deciding the session is over)
// happens on the owner's goroutine through [Session.Pump].
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"dbgpsh/internal/metrics"
	"dbgpsh/util"
)

// Protocol is the handler that interprets the engine's byte stream.
type Protocol interface {
	// Feed appends p (which may be empty) to the handler's buffer and
	// processes at most one complete message.
	Feed(p []byte) error

	// Pending reports whether a complete message is buffered but not
	// yet processed.
	Pending() bool
}

// Outcome is the result of one Pump.
type Outcome int

const (
	Continue    Outcome = iota // session stays up
	EndOfStream                // peer closed the connection
	Error                      // read or protocol failure
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case EndOfStream:
		return "end-of-stream"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Chunk is one read from the connection.  Data and Err may both be set
// when a read returned bytes together with an error.
type Chunk struct {
	Data []byte
	Err  error
}

// Session is the active debugger connection.  Only the owner goroutine
// may call Pump, PumpPending and HasPendingData.
type Session struct {
	ID string

	conn    net.Conn
	proto   Protocol
	logger  *util.Logger
	metrics *metrics.Collector

	chunks chan Chunk
	done   chan struct{}
	once   sync.Once

	closed       atomic.Bool
	disconnected atomic.Bool
	err          error // last read or protocol error
}

// New wraps conn and starts its reader.  proto is the handler fed with
// the connection's bytes.
func New(conn net.Conn, proto Protocol, logger *util.Logger, m *metrics.Collector) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		proto:   proto,
		logger:  logger.With("session"),
		metrics: m,
		chunks:  make(chan Chunk),
		done:    make(chan struct{}),
	}
	m.SessionOpened(s.Peer())
	s.logger.Debug("%s opened from %s", s.ID, s.Peer())
	go s.readLoop()
	return s
}

// readLoop reads one chunk at a time.  It blocks handing each chunk
// over before reading the next, so at most one chunk is read ahead of
// the owner.
func (s *Session) readLoop() {
	for {
		data, err := util.ReadChunk(s.conn)
		select {
		case s.chunks <- Chunk{Data: data, Err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Readable delivers chunks read from the connection.  Receiving from
// it is the session's "data available" event.
func (s *Session) Readable() <-chan Chunk { return s.chunks }

// HasPendingData reports whether the handler holds a complete message
// from an earlier read that it has not processed yet.
func (s *Session) HasPendingData() bool {
	return !s.closed.Load() && s.proto.Pending()
}

// Pump hands one chunk to the handler.  Bytes are fed before any error
// carried with them is looked at, and a chunk that ends the stream
// first flushes every complete message the handler still holds.
func (s *Session) Pump(c Chunk) Outcome {
	if len(c.Data) > 0 {
		s.metrics.BytesReceived(int64(len(c.Data)))
		if err := s.proto.Feed(c.Data); err != nil {
			return s.fail(err)
		}
	}
	if c.Err != nil {
		for s.proto.Pending() {
			if err := s.proto.Feed(nil); err != nil {
				return s.fail(err)
			}
		}
		s.err = c.Err
		if util.IsClosed(c.Err) {
			s.logger.Debug("%s: peer closed: %v", s.ID, c.Err)
			return EndOfStream
		}
		return s.fail(c.Err)
	}
	return Continue
}

// PumpPending processes one already-buffered message without reading
// from the connection.
func (s *Session) PumpPending() Outcome {
	if err := s.proto.Feed(nil); err != nil {
		return s.fail(err)
	}
	return Continue
}

func (s *Session) fail(err error) Outcome {
	s.err = err
	s.metrics.RecordError(err.Error())
	s.logger.Debug("%s: %v", s.ID, err)
	return Error
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error { return s.err }

// Protocol returns the session's handler, for sending commands.
func (s *Session) Protocol() Protocol { return s.proto }

// Peer returns the remote address of the engine.
func (s *Session) Peer() string {
	if a := s.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Disconnect closes the session at the operator's request.  The owner
// notices through Disconnected and drops it.
func (s *Session) Disconnect() error {
	s.disconnected.Store(true)
	return s.Close()
}

// Disconnected reports whether Disconnect was called.
func (s *Session) Disconnected() bool { return s.disconnected.Load() }

// Closed reports whether the connection has been closed.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close closes the connection and stops the reader.  It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.conn.Close()
		s.metrics.SessionClosed()
		s.logger.Debug("%s closed", s.ID)
	})
	return err
}
