// Package config defines the runtime configuration for dbgpsh: where
// the debugger listener binds, which peers it accepts, how the debuggee
// is started, and the optional SSH gateway the listener can live on.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	dberr "dbgpsh/internal/errors"
	"dbgpsh/util"
)

// Config holds every tuneable for a dbgpsh run.  Fields tagged for TOML
// are persisted in the settings file; the rest only live for one run.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Bind   string `toml:"bind"`
	Port   int    `toml:"port"`
	Accept string `toml:"accept,omitempty"` // wildcard allow-pattern, empty = anyone

	// ── Debuggee ─────────────────────────────────────────────────────
	IDEKey      string `toml:"idekey"`
	Interpreter string `toml:"interpreter"`
	Output      string `toml:"output,omitempty"` // debuggee stdout/stderr file

	// ── Console ──────────────────────────────────────────────────────
	Prompt  string `toml:"prompt"`
	NoColor bool   `toml:"no_color,omitempty"`
	Quiet   bool   `toml:"-"`
	Verbose int    `toml:"-"`

	// ── SSH gateway ──────────────────────────────────────────────────
	Tunnel Tunnel `toml:"tunnel,omitempty"`

	// Path is the settings file this config was loaded from.
	Path string `toml:"-"`

	changed map[string]string // settings altered at runtime via Set
}

// Tunnel describes an SSH gateway on which the debugger listener is
// opened with remote port forwarding, so an engine running on a remote
// host can reach a console running behind NAT.
type Tunnel struct {
	Spec          string `toml:"spec,omitempty"` // raw [user@]host[:port]
	RemoteBind    string `toml:"remote_bind,omitempty"`
	KeyPath       string `toml:"key,omitempty"`
	UseAgent      bool   `toml:"agent,omitempty"`
	StrictHostKey bool   `toml:"strict_hostkey,omitempty"`
	KnownHosts    string `toml:"known_hosts,omitempty"`
	KeepAlive     int    `toml:"keepalive,omitempty"` // seconds; 0 = default, <0 = off
	PromptPass    bool   `toml:"-"`

	// Parsed from Spec by [Config.Validate].
	Enabled bool   `toml:"-"`
	User    string `toml:"-"`
	Host    string `toml:"-"`
	Port    int    `toml:"-"`
}

// Defaults returns a Config populated from defaults.go.
func Defaults() *Config {
	return &Config{
		Bind:        DefaultBind,
		Port:        DefaultPort,
		IDEKey:      DefaultIDEKey,
		Interpreter: DefaultInterpreter,
		Prompt:      DefaultPrompt,
		Verbose:     1,
	}
}

// ListenAddress returns the host:port the listener binds to.  With an
// SSH gateway this is the address on the gateway.
func (c *Config) ListenAddress() string {
	host := c.Bind
	if c.Tunnel.Enabled && c.Tunnel.RemoteBind != "" {
		host = c.Tunnel.RemoteBind
	}
	return util.FormatAddr(host, c.Port)
}

// ── Named settings ───────────────────────────────────────────────────
//
// The console's `set` command and the settings file both address
// configuration by name.

type setting struct {
	get   func(c *Config) string
	apply func(c *Config, v string) error
}

var settings = map[string]setting{ //nolint:gochecknoglobals
	"bind": {
		get: func(c *Config) string { return c.Bind },
		apply: func(c *Config, v string) error {
			if v == "" {
				return &dberr.ConfigError{Field: "bind", Message: "must not be empty",
					Hint: "use 0.0.0.0 to listen on every interface"}
			}
			c.Bind = v
			return nil
		},
	},
	"port": {
		get: func(c *Config) string { return strconv.Itoa(c.Port) },
		apply: func(c *Config, v string) error {
			p, err := ParsePort(v)
			if err != nil {
				return &dberr.ConfigError{Field: "port", Value: v, Message: err.Error()}
			}
			c.Port = p
			return nil
		},
	},
	"accept": {
		get:   func(c *Config) string { return c.Accept },
		apply: func(c *Config, v string) error { c.Accept = v; return nil },
	},
	"idekey": {
		get:   func(c *Config) string { return c.IDEKey },
		apply: func(c *Config, v string) error { c.IDEKey = v; return nil },
	},
	"interpreter": {
		get: func(c *Config) string { return c.Interpreter },
		apply: func(c *Config, v string) error {
			if v == "" {
				return &dberr.ConfigError{Field: "interpreter", Message: "must not be empty",
					Hint: "the program `start` runs the target with, e.g. php"}
			}
			c.Interpreter = v
			return nil
		},
	},
	"output": {
		get:   func(c *Config) string { return c.Output },
		apply: func(c *Config, v string) error { c.Output = v; return nil },
	},
	"prompt": {
		get:   func(c *Config) string { return c.Prompt },
		apply: func(c *Config, v string) error { c.Prompt = v; return nil },
	},
}

// SettingNames lists every name accepted by [Config.Setting] in
// alphabetical order.
func SettingNames() []string {
	names := make([]string, 0, len(settings))
	for n := range settings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Setting returns the current value of a named setting.
func (c *Config) Setting(name string) (string, bool) {
	s, ok := settings[name]
	if !ok {
		return "", false
	}
	return s.get(c), true
}

// Set changes a named setting and remembers the change so [Config.Save]
// writes it back at shutdown.
func (c *Config) Set(name, value string) error {
	s, ok := settings[name]
	if !ok {
		return fmt.Errorf("%w %q", dberr.ErrUnknownKey, name)
	}
	if err := s.apply(c, value); err != nil {
		return err
	}
	if c.changed == nil {
		c.changed = make(map[string]string)
	}
	c.changed[name] = value
	return nil
}

// Dirty reports whether any setting changed since load.
func (c *Config) Dirty() bool { return len(c.changed) > 0 }

// ── Parsers ──────────────────────────────────────────────────────────

// ParsePort accepts a decimal TCP port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent and
// expands the tunnel spec.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &dberr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("DBGp engines connect to %d by default", DefaultPort),
		}
	}
	if c.Bind == "" {
		return &dberr.ConfigError{Field: "bind", Message: "must not be empty",
			Hint: "use 0.0.0.0 to listen on every interface"}
	}
	if c.Interpreter == "" {
		return &dberr.ConfigError{Field: "interpreter", Message: "must not be empty"}
	}

	if c.Tunnel.Spec == "" {
		c.Tunnel.Enabled = false
		if c.Tunnel.RemoteBind != "" {
			return &dberr.ConfigError{Field: "remote-bind", Value: c.Tunnel.RemoteBind,
				Message: "requires --tunnel",
				Hint:    "the remote bind address is only used on an SSH gateway"}
		}
		return nil
	}

	user, host, port, err := ParseTunnelSpec(c.Tunnel.Spec)
	if err != nil {
		return &dberr.ConfigError{Field: "tunnel", Value: c.Tunnel.Spec, Message: err.Error()}
	}
	c.Tunnel.Enabled = true
	c.Tunnel.User = user
	c.Tunnel.Host = host
	c.Tunnel.Port = port
	return nil
}
