package util

import (
	"net"
	"strconv"
	"strings"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// PeerIP extracts the bare IP (or host) part of a connection's remote
// address, without the port.  Addresses that carry no port are returned
// as-is.
func PeerIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// CanonicalHost strips the trailing dot that reverse lookups return
// ("host.example.com." → "host.example.com").
func CanonicalHost(name string) string {
	return strings.TrimSuffix(name, ".")
}
