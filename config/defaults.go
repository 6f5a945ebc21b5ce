package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, the settings file, and environment variable
// loading.

const (
	// DefaultBind is the listener address.  Loopback unless the user
	// explicitly opens it up.
	DefaultBind = "127.0.0.1"

	// DefaultPort is the classic DBGp port engines connect back to.
	DefaultPort = 9000

	// DefaultIDEKey identifies this console to the debugger engine.
	DefaultIDEKey = "dbgpsh"

	// DefaultInterpreter runs the target file for `start`.
	DefaultInterpreter = "php"

	// DefaultPrompt is shown while waiting for operator input.
	DefaultPrompt = "-> "

	// DefaultSettingsFile is the settings file name under $HOME.
	DefaultSettingsFile = ".dbgpsh.toml"

	// DefaultIdleTimeout bounds each wait of the event loop so it
	// regains control periodically even without I/O.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultResolveTimeout bounds the reverse DNS lookup done while
	// filtering an inbound connection.
	DefaultResolveTimeout = 2 * time.Second

	// DefaultAcceptRetryDelay is the first pause before listening again
	// after Accept failed; it doubles per consecutive failure up to
	// DefaultAcceptRetryMax.
	DefaultAcceptRetryDelay = 250 * time.Millisecond
	DefaultAcceptRetryMax   = 30 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the SSH gateway connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultKeepAlive is the interval between SSH gateway keepalive
	// probes.
	DefaultKeepAlive = 30 * time.Second

	// DefaultMaxReconnectAttempts is how many times to retry reaching
	// the SSH gateway before giving up.
	DefaultMaxReconnectAttempts = 5

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// gateway connection attempts.
	DefaultMaxReconnectBackoff = 30 * time.Second
)
