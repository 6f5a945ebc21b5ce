// Package metrics provides lightweight, lock-free counters for tracking
// what a dbgpsh console has seen: debugger sessions, rejected peers,
// protocol traffic and idle wake-ups.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one console.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive   atomic.Int64
	sessionsTotal    atomic.Int64
	rejectedTotal    atomic.Int64
	bytesIn          atomic.Int64
	messagesTotal    atomic.Int64
	commandsTotal    atomic.Int64
	idleTicks        atomic.Int64
	errorsTotal      atomic.Int64
	listenersOpened  atomic.Int64
	disconnectsTotal atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastPeer     string
	lastIdle     time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened records an admitted debugger connection from peer.
func (c *Collector) SessionOpened(peer string) {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.mu.Lock()
	c.lastPeer = peer
	c.mu.Unlock()
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
	c.disconnectsTotal.Add(1)
}

// ActiveSessions returns the number of open sessions (0 or 1).
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ConnectionRejected records a peer turned away by the allow-pattern.
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.rejectedTotal.Add(1)
}

// Rejected returns the number of rejected connections.
func (c *Collector) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.rejectedTotal.Load()
}

// ListenerOpened records that a listening endpoint was (re)created.
func (c *Collector) ListenerOpened() {
	if c == nil {
		return
	}
	c.listenersOpened.Add(1)
}

// Listeners returns how many times a listener was created.
func (c *Collector) Listeners() int64 {
	if c == nil {
		return 0
	}
	return c.listenersOpened.Load()
}

// ── Traffic metrics ──────────────────────────────────────────────────

// BytesReceived records n bytes read from the debugger engine.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// MessageProcessed records one protocol message handled.
func (c *Collector) MessageProcessed() {
	if c == nil {
		return
	}
	c.messagesTotal.Add(1)
}

// Messages returns the number of protocol messages handled.
func (c *Collector) Messages() int64 {
	if c == nil {
		return 0
	}
	return c.messagesTotal.Load()
}

// CommandDispatched records one operator command line.
func (c *Collector) CommandDispatched() {
	if c == nil {
		return
	}
	c.commandsTotal.Add(1)
}

// Commands returns the number of dispatched command lines.
func (c *Collector) Commands() int64 {
	if c == nil {
		return 0
	}
	return c.commandsTotal.Load()
}

// ── Idle / errors ────────────────────────────────────────────────────

// IdleTick records a wait that timed out with nothing ready.
func (c *Collector) IdleTick() {
	if c == nil {
		return
	}
	c.idleTicks.Add(1)
	c.mu.Lock()
	c.lastIdle = time.Now()
	c.mu.Unlock()
}

// IdleTicks returns the number of idle wake-ups.
func (c *Collector) IdleTicks() int64 {
	if c == nil {
		return 0
	}
	return c.idleTicks.Load()
}

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	Disconnects      int64  `json:"disconnects"`
	Rejected         int64  `json:"rejected"`
	Listeners        int64  `json:"listeners_opened"`
	BytesIn          int64  `json:"bytes_in"`
	Messages         int64  `json:"messages"`
	Commands         int64  `json:"commands"`
	IdleTicks        int64  `json:"idle_ticks"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastPeer         string `json:"last_peer,omitempty"`
	LastIdle         string `json:"last_idle,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		Disconnects:    c.disconnectsTotal.Load(),
		Rejected:       c.rejectedTotal.Load(),
		Listeners:      c.listenersOpened.Load(),
		BytesIn:        c.bytesIn.Load(),
		Messages:       c.messagesTotal.Load(),
		Commands:       c.commandsTotal.Load(),
		IdleTicks:      c.idleTicks.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
		LastPeer:       c.lastPeer,
	}
	if !c.lastIdle.IsZero() {
		s.LastIdle = c.lastIdle.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
