package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	dberr "dbgpsh/internal/errors"
	"dbgpsh/util"
)

// SSHConfig holds everything needed to reach an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive@openssh.com probes.
	// A failed probe closes the client so IsAlive turns false.  Zero
	// disables probing.
	KeepAlive time.Duration
}

// Address returns host:port of the gateway.
func (c *SSHConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHGateway implements [Gateway] with golang.org/x/crypto/ssh and
// RFC 4254 remote port forwarding.
//
// Only one forwarded listener is active at a time, matching a console
// that serves one debugging session at a time.  Forwarded channels
// that arrive while no listener is open are rejected.
type SSHGateway struct {
	config *SSHConfig
	logger *util.Logger

	// auth is built on the first Connect and reused by reconnects, so
	// an interactive password is only asked for once.
	auth []ssh.AuthMethod

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
	active *forwardListener
	stop   chan struct{}
}

// NewSSHGateway creates a gateway that is ready to [SSHGateway.Connect].
func NewSSHGateway(cfg *SSHConfig, logger *util.Logger) *SSHGateway {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHGateway{config: cfg, logger: logger.With("ssh")}
}

// String renders the gateway as user@host:port for notices.
func (g *SSHGateway) String() string {
	if g.config.User == "" {
		return g.config.Address()
	}
	return g.config.User + "@" + g.config.Address()
}

// Connect dials the gateway and completes the handshake.  An existing
// connection is closed first.
func (g *SSHGateway) Connect(ctx context.Context) error {
	if g.auth == nil {
		methods, err := BuildAuthMethods(g.config)
		if err != nil {
			return dberr.WrapSSH("auth", g.config.Host, g.config.Port, err)
		}
		g.auth = methods
	}

	hkCallback, err := hostKeyCallback(g.config)
	if err != nil {
		return dberr.WrapSSH("hostkey", g.config.Host, g.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            g.config.User,
		Auth:            g.auth,
		HostKeyCallback: hkCallback,
		Timeout:         g.config.ConnTimeout,
	}

	addr := g.config.Address()
	g.logger.Debug("dialing %s as %s", addr, g.config.User)

	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, g.config.ConnTimeout)
	defer cancel()
	tcpConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return dberr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return dberr.WrapSSH("handshake", g.config.Host, g.config.Port, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	// Claim forwarded-tcpip before ssh.Client.Listen can.  The library
	// matches channels by the exact bind address it sent, which breaks
	// against servers that echo back a normalised address.
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		client.Close()
		return dberr.WrapSSH("forward", g.config.Host, g.config.Port,
			fmt.Errorf("forwarded-tcpip handler already registered"))
	}

	g.shutdown()

	stop := make(chan struct{})
	g.mu.Lock()
	g.client = client
	g.alive = true
	g.stop = stop
	g.mu.Unlock()

	go g.route(incoming)
	go g.monitor(client)
	if g.config.KeepAlive > 0 {
		go g.keepalive(client, stop)
	}

	g.logger.Verbose("connected to %s", g)
	return nil
}

// Listen sends a tcpip-forward request for address and returns the
// listener for the forwarded connections.  An address with port 0 lets
// the gateway pick; the chosen port is reported by Addr.
func (g *SSHGateway) Listen(network, address string) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("ssh gateway cannot listen on %q", network)
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port in %q", address)
	}

	g.mu.RLock()
	client := g.client
	alive := g.alive
	busy := g.active != nil
	g.mu.RUnlock()

	if !alive || client == nil {
		return nil, dberr.ErrTunnelClosed
	}
	if busy {
		return nil, fmt.Errorf("remote listener already open on %s", g)
	}

	l, err := listenRemoteForward(g, client, host, port)
	if err != nil {
		return nil, dberr.WrapSSH("forward", g.config.Host, g.config.Port, err)
	}

	g.mu.Lock()
	g.active = l
	g.mu.Unlock()

	g.logger.Debug("remote listener on %s via %s", l.Addr(), g)
	return l, nil
}

// Close shuts down the SSH connection.  It is safe to call repeatedly.
func (g *SSHGateway) Close() error {
	return g.shutdown()
}

func (g *SSHGateway) shutdown() error {
	g.mu.Lock()
	client := g.client
	active := g.active
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	g.client = nil
	g.active = nil
	g.alive = false
	g.mu.Unlock()

	if active != nil {
		active.closeLocal()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// IsAlive reports whether the gateway is still connected.
func (g *SSHGateway) IsAlive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.alive
}

// release forgets l if it is still the active listener.
func (g *SSHGateway) release(l *forwardListener) {
	g.mu.Lock()
	if g.active == l {
		g.active = nil
	}
	g.mu.Unlock()
}

// route hands each forwarded channel to the active listener.  It ends
// when the client closes.
func (g *SSHGateway) route(incoming <-chan ssh.NewChannel) {
	for nc := range incoming {
		g.mu.RLock()
		l := g.active
		g.mu.RUnlock()

		if l == nil || !l.offer(nc) {
			g.logger.Debug("rejecting forwarded channel: no listener")
			nc.Reject(ssh.Prohibited, "no debugger listener") //nolint:errcheck
		}
	}
}

// monitor blocks until client closes and flips the alive flag.
func (g *SSHGateway) monitor(client *ssh.Client) {
	err := client.Wait()

	g.mu.Lock()
	current := g.client == client
	if current {
		g.alive = false
	}
	active := g.active
	g.mu.Unlock()

	if !current {
		return
	}
	if active != nil {
		active.closeLocal()
	}
	if err != nil {
		g.logger.Debug("gateway closed: %v", err)
	} else {
		g.logger.Debug("gateway closed")
	}
}

// keepalive probes the gateway every KeepAlive and closes client on
// the first failure, which unblocks any pending Accept.
func (g *SSHGateway) keepalive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(g.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				g.logger.Warn("gateway %s keepalive failed: %v", g, err)
				client.Close()
				return
			}
			g.logger.Debug("keepalive OK")
		}
	}
}
