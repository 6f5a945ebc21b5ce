package session

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"dbgpsh/internal/metrics"
	"dbgpsh/util"
)

// lineProtocol treats each '\n'-terminated line as one message.
type lineProtocol struct {
	buf     []byte
	handled []string
	failOn  string
}

func (p *lineProtocol) Feed(b []byte) error {
	p.buf = append(p.buf, b...)
	i := bytes.IndexByte(p.buf, '\n')
	if i < 0 {
		return nil
	}
	msg := string(p.buf[:i])
	p.buf = p.buf[i+1:]
	if p.failOn != "" && msg == p.failOn {
		return errors.New("malformed message")
	}
	p.handled = append(p.handled, msg)
	return nil
}

func (p *lineProtocol) Pending() bool { return bytes.IndexByte(p.buf, '\n') >= 0 }

func newPipeSession(t *testing.T, p Protocol) (*Session, net.Conn, *metrics.Collector) {
	t.Helper()
	local, remote := net.Pipe()
	m := metrics.New()
	s := New(local, p, util.NewLogger(0), m)
	t.Cleanup(func() {
		s.Close()
		remote.Close()
	})
	return s, remote, m
}

func next(t *testing.T, s *Session) Chunk {
	t.Helper()
	select {
	case c := <-s.Readable():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk delivered")
		return Chunk{}
	}
}

func TestSession_PumpFeedsOneMessage(t *testing.T) {
	p := &lineProtocol{}
	s, remote, m := newPipeSession(t, p)

	go remote.Write([]byte("one\ntwo\nthree\n")) //nolint:errcheck

	if got := s.Pump(next(t, s)); got != Continue {
		t.Fatalf("Pump = %v, want continue", got)
	}
	if len(p.handled) != 1 || p.handled[0] != "one" {
		t.Fatalf("handled = %v", p.handled)
	}
	if !s.HasPendingData() {
		t.Fatal("two complete messages should still be pending")
	}

	for s.HasPendingData() {
		if got := s.PumpPending(); got != Continue {
			t.Fatalf("PumpPending = %v", got)
		}
	}
	if want := []string{"one", "two", "three"}; len(p.handled) != 3 || p.handled[2] != want[2] {
		t.Errorf("handled = %v, want %v", p.handled, want)
	}
	if m.TotalBytesIn() != int64(len("one\ntwo\nthree\n")) {
		t.Errorf("bytes in = %d", m.TotalBytesIn())
	}
}

func TestSession_PartialMessageIsNotPending(t *testing.T) {
	p := &lineProtocol{}
	s, remote, _ := newPipeSession(t, p)

	go remote.Write([]byte("hal")) //nolint:errcheck
	s.Pump(next(t, s))
	if s.HasPendingData() {
		t.Fatal("an incomplete message must not count as pending")
	}

	go remote.Write([]byte("f\n")) //nolint:errcheck
	s.Pump(next(t, s))
	if len(p.handled) != 1 || p.handled[0] != "half" {
		t.Errorf("handled = %v", p.handled)
	}
}

func TestSession_PeerCloseIsEndOfStream(t *testing.T) {
	s, remote, _ := newPipeSession(t, &lineProtocol{})

	remote.Close()
	if got := s.Pump(next(t, s)); got != EndOfStream {
		t.Fatalf("Pump = %v, want end-of-stream", got)
	}
	if !errors.Is(s.Err(), io.EOF) {
		t.Errorf("Err() = %v, want io.EOF", s.Err())
	}
}

func TestSession_DataWithErrorIsFedFirst(t *testing.T) {
	p := &lineProtocol{}
	s, _, _ := newPipeSession(t, p)

	got := s.Pump(Chunk{Data: []byte("last\n"), Err: io.EOF})
	if got != EndOfStream {
		t.Fatalf("Pump = %v, want end-of-stream", got)
	}
	if len(p.handled) != 1 || p.handled[0] != "last" {
		t.Errorf("trailing data not fed: %v", p.handled)
	}
}

// TestSession_EndOfStreamFlushesBufferedMessages verifies messages that
// arrive in the same read as EOF are all handled before the session ends.
func TestSession_EndOfStreamFlushesBufferedMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"peer closed", io.EOF, EndOfStream},
		{"read error", errors.New("connection reset"), Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &lineProtocol{}
			s, _, _ := newPipeSession(t, p)

			if got := s.Pump(Chunk{Data: []byte("a\nb\nc\npartial"), Err: tt.err}); got != tt.want {
				t.Fatalf("Pump = %v, want %v", got, tt.want)
			}
			if want := []string{"a", "b", "c"}; len(p.handled) != 3 ||
				p.handled[0] != want[0] || p.handled[1] != want[1] || p.handled[2] != want[2] {
				t.Errorf("handled = %v, want %v", p.handled, want)
			}
			if p.Pending() {
				t.Error("a complete message was left buffered")
			}
		})
	}
}

func TestSession_ReadErrorIsError(t *testing.T) {
	s, _, m := newPipeSession(t, &lineProtocol{})

	if got := s.Pump(Chunk{Err: errors.New("i/o timeout")}); got != Error {
		t.Fatalf("Pump = %v, want error", got)
	}
	if m.ErrorCount() != 1 {
		t.Errorf("errors = %d, want 1", m.ErrorCount())
	}
}

func TestSession_ProtocolErrorIsError(t *testing.T) {
	s, _, _ := newPipeSession(t, &lineProtocol{failOn: "garbage"})

	if got := s.Pump(Chunk{Data: []byte("garbage\n")}); got != Error {
		t.Fatalf("Pump = %v, want error", got)
	}
	if s.Err() == nil {
		t.Error("Err() should report the protocol failure")
	}
}

func TestSession_DisconnectAndClose(t *testing.T) {
	s, remote, m := newPipeSession(t, &lineProtocol{})

	if m.ActiveSessions() != 1 {
		t.Fatalf("active = %d, want 1", m.ActiveSessions())
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !s.Closed() || !s.Disconnected() {
		t.Fatal("session should be closed and disconnected")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("active = %d after close", m.ActiveSessions())
	}

	// The engine side sees the hang-up.
	buf := make([]byte, 1)
	if _, err := remote.Read(buf); err == nil {
		t.Error("remote read should fail after Close")
	}
}

func TestSession_ClosedHasNoPendingData(t *testing.T) {
	p := &lineProtocol{buf: []byte("queued\n")}
	s, _, _ := newPipeSession(t, p)

	if !s.HasPendingData() {
		t.Fatal("queued message should be pending")
	}
	s.Close()
	if s.HasPendingData() {
		t.Error("a closed session must not report pending data")
	}
}

func TestSession_IDAndPeer(t *testing.T) {
	s, _, _ := newPipeSession(t, &lineProtocol{})
	if len(s.ID) != 36 {
		t.Errorf("ID %q is not a UUID", s.ID)
	}
	if s.Peer() == "" {
		t.Error("Peer() should not be empty")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		Continue:    "continue",
		EndOfStream: "end-of-stream",
		Error:       "error",
		Outcome(9):  "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(o), got, want)
		}
	}
}
