package core

import (
	"io"
	"net"
	"time"

	"dbgpsh/config"
	"dbgpsh/internal/console"
	"dbgpsh/internal/dbgp"
	"dbgpsh/internal/metrics"
	"dbgpsh/internal/retry"
	"dbgpsh/internal/session"
	"dbgpsh/internal/transport"
	"dbgpsh/tunnel"
	"dbgpsh/util"
)

// Options carries what Build cannot derive from the configuration.
type Options struct {
	Console    *console.Console
	Stdin      io.Reader
	StartFile  string
	OnShutdown func() error
	Metrics    *metrics.Collector
	Logger     *util.Logger

	// Gateway, when set, replaces the SSH gateway Build would create
	// for a tunnel configuration (cmd connects it before raw mode).
	Gateway tunnel.Gateway
}

// Build assembles the event loop for cfg.  cfg must have passed
// [config.Config.Validate].
func Build(cfg *config.Config, opts Options) *Loop {
	return &Loop{
		Config:      cfg,
		Console:     opts.Console,
		Binder:      BuildBinder(cfg, opts.Gateway, opts.Logger),
		Stdin:       opts.Stdin,
		NewProtocol: dbgpProtocol(opts.Console, opts.Logger, opts.Metrics),
		StartFile:   opts.StartFile,
		OnShutdown:  opts.OnShutdown,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger,
	}
}

// ── builders ─────────────────────────────────────────────────────────

// BuildBinder picks where listeners are opened: locally, or on the SSH
// gateway named by the tunnel settings.  gw may be nil.
func BuildBinder(cfg *config.Config, gw tunnel.Gateway, logger *util.Logger) transport.Binder {
	if !cfg.Tunnel.Enabled {
		return &transport.TCPBinder{}
	}
	if gw == nil {
		gw = BuildGateway(cfg, logger)
	}
	backoff := retry.DefaultBackoff()
	backoff.MaxAttempts = config.DefaultMaxReconnectAttempts
	backoff.MaxDelay = config.DefaultMaxReconnectBackoff
	return transport.NewSSHBinder(gw, backoff, logger)
}

// BuildGateway creates the (unconnected) SSH gateway for cfg.
func BuildGateway(cfg *config.Config, logger *util.Logger) *tunnel.SSHGateway {
	return tunnel.NewSSHGateway(SSHConfig(cfg), logger)
}

// SSHConfig translates the tunnel settings.
func SSHConfig(cfg *config.Config) *tunnel.SSHConfig {
	t := cfg.Tunnel
	keepAlive := config.DefaultKeepAlive
	switch {
	case t.KeepAlive > 0:
		keepAlive = time.Duration(t.KeepAlive) * time.Second
	case t.KeepAlive < 0:
		keepAlive = 0
	}
	return &tunnel.SSHConfig{
		User:          t.User,
		Host:          t.Host,
		Port:          t.Port,
		KeyPath:       t.KeyPath,
		PromptPass:    t.PromptPass,
		UseAgent:      t.UseAgent,
		StrictHostKey: t.StrictHostKey,
		KnownHosts:    t.KnownHosts,
		ConnTimeout:   config.DefaultConnTimeout,
		KeepAlive:     keepAlive,
	}
}

// dbgpProtocol returns a factory that speaks DBGp on each connection
// and prints what the engine says on the console.
func dbgpProtocol(c *console.Console, logger *util.Logger, m *metrics.Collector) ProtocolFactory {
	return func(conn net.Conn) session.Protocol {
		return dbgp.NewHandler(conn, c, logger, m)
	}
}
