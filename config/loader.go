package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Settings file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the DBGPSH_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  NO_COLOR is honoured
// as well, following https://no-color.org.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it after loading the
// settings file and before CLI flag parsing so that flags take
// precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DBGPSH_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := envInt("DBGPSH_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("DBGPSH_ACCEPT"); v != "" {
		cfg.Accept = v
	}
	if v := os.Getenv("DBGPSH_IDEKEY"); v != "" {
		cfg.IDEKey = v
	}
	if v := os.Getenv("DBGPSH_INTERPRETER"); v != "" {
		cfg.Interpreter = v
	}

	// SSH gateway
	if v := os.Getenv("DBGPSH_TUNNEL"); v != "" {
		cfg.Tunnel.Spec = v
	}
	if v := os.Getenv("DBGPSH_REMOTE_BIND"); v != "" {
		cfg.Tunnel.RemoteBind = v
	}
	if v := os.Getenv("DBGPSH_SSH_KEY"); v != "" {
		cfg.Tunnel.KeyPath = v
	}
	if envBool("DBGPSH_SSH_AGENT") {
		cfg.Tunnel.UseAgent = true
	}
	if envBool("DBGPSH_STRICT_HOSTKEY") {
		cfg.Tunnel.StrictHostKey = true
	}
	if v := os.Getenv("DBGPSH_KNOWN_HOSTS"); v != "" {
		cfg.Tunnel.KnownHosts = v
	}

	// Output
	if v := envInt("DBGPSH_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("DBGPSH_QUIET") {
		cfg.Quiet = true
	}
	if os.Getenv("NO_COLOR") != "" || envBool("DBGPSH_NO_COLOR") {
		cfg.NoColor = true
	}
}

// SettingsPathFromEnv returns DBGPSH_CONFIG, or "" when unset.
func SettingsPathFromEnv() string {
	return os.Getenv("DBGPSH_CONFIG")
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}
