package tunnel

// forward.go - the net.Listener side of a remote port forward.

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ── Wire format structs (RFC 4254) ──────────────────────────────────

// channelForwardMsg is the payload of the "tcpip-forward" and
// "cancel-tcpip-forward" global requests (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardedTCPPayload is the channel-open payload for
// "forwarded-tcpip" (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// ── forwardListener ─────────────────────────────────────────────────

// forwardListener implements [net.Listener] over forwarded-tcpip
// channels routed to it by its gateway.
type forwardListener struct {
	gw       *SSHGateway
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming chan ssh.NewChannel // unbuffered: nothing is left behind on Close
	done     chan struct{}
	once     sync.Once
}

// listenRemoteForward sends a tcpip-forward request on client.  When
// port is 0 the gateway's reply carries the port it picked.
func listenRemoteForward(gw *SSHGateway, client *ssh.Client, addr string, port int) (*forwardListener, error) {
	msg := channelForwardMsg{Addr: addr, Port: uint32(port)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by gateway", net.JoinHostPort(addr, fmt.Sprint(port)))
	}
	bound := uint32(port)
	if port == 0 && len(reply) >= 4 {
		bound = binary.BigEndian.Uint32(reply)
	}

	return &forwardListener{
		gw:       gw,
		client:   client,
		bindAddr: addr,
		bindPort: bound,
		incoming: make(chan ssh.NewChannel),
		done:     make(chan struct{}),
	}, nil
}

// offer hands nc to a pending Accept.  It reports false once the
// listener is closed.
func (l *forwardListener) offer(nc ssh.NewChannel) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.incoming <- nc:
		return true
	case <-l.done:
		return false
	}
}

// Accept waits for the next forwarded connection.
func (l *forwardListener) Accept() (net.Conn, error) {
	var nc ssh.NewChannel
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case nc = <-l.incoming:
	}

	ch, reqs, err := nc.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting forwarded channel: %w", err)
	}
	go ssh.DiscardRequests(reqs)

	var raddr net.Addr = &net.TCPAddr{}
	var payload forwardedTCPPayload
	if err := ssh.Unmarshal(nc.ExtraData(), &payload); err == nil {
		raddr = &net.TCPAddr{
			IP:   net.ParseIP(payload.OriginAddr),
			Port: int(payload.OriginPort),
		}
	}
	return &chanConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.gw.release(l)
		// The connection may already be gone; the cancel is best effort.
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// closeLocal unblocks Accept without talking to the gateway.  Used
// when the SSH connection itself is going away.
func (l *forwardListener) closeLocal() {
	l.once.Do(func() { close(l.done) })
}

// Addr returns the address listened on at the gateway.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn wraps an [ssh.Channel] to satisfy [net.Conn].
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(_ time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }
