// Package filter decides whether an inbound debugger connection is
// admitted, using a shell-style allow-pattern matched against the
// peer's address and, failing that, its reverse-DNS names.
package filter

import (
	"context"
	"net"
	"time"

	"dbgpsh/util"
)

// Match reports whether candidate matches pattern, where '*' matches
// any run of characters (including none) and '?' matches exactly one.
// Every other character matches itself, case-sensitively.  An empty
// pattern matches nothing; callers treat an empty pattern as "no
// restriction" before calling Match.
func Match(pattern, candidate string) bool {
	if pattern == "" {
		return false
	}
	p := []rune(pattern)
	s := []rune(candidate)

	// Iterative matcher with single-star backtracking.
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == s[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// Resolver performs reverse lookups.  *net.Resolver satisfies it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Verdict is the outcome of filtering one peer.
type Verdict struct {
	Admitted bool
	IP       string // bare peer address
	Host     string // reverse-DNS name when one was looked up, else IP
}

// Filter admits peers matching Pattern by address or by name.
type Filter struct {
	Pattern  string
	Resolver Resolver      // nil uses net.DefaultResolver
	Timeout  time.Duration // bound on the reverse lookup; 0 = none
	Logger   *util.Logger
}

// New returns a Filter for pattern backed by the system resolver.
func New(pattern string, timeout time.Duration, logger *util.Logger) *Filter {
	return &Filter{Pattern: pattern, Timeout: timeout, Logger: logger}
}

// Admit checks the peer address.  With no pattern every peer is
// admitted without a lookup.  Otherwise the bare IP is matched first;
// only when that fails is the address reverse-resolved and each name
// matched in turn.
func (f *Filter) Admit(ctx context.Context, addr net.Addr) Verdict {
	ip := util.PeerIP(addr)
	v := Verdict{IP: ip, Host: ip}

	if f.Pattern == "" {
		v.Admitted = true
		return v
	}
	if Match(f.Pattern, ip) {
		v.Admitted = true
		return v
	}

	names := f.lookup(ctx, ip)
	for i, name := range names {
		name = util.CanonicalHost(name)
		if i == 0 {
			v.Host = name
		}
		if Match(f.Pattern, name) {
			v.Host = name
			v.Admitted = true
			return v
		}
	}
	return v
}

func (f *Filter) lookup(ctx context.Context, ip string) []string {
	r := f.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	names, err := r.LookupAddr(ctx, ip)
	if err != nil {
		if f.Logger != nil {
			f.Logger.Debug("reverse lookup of %s: %v", ip, err)
		}
		return nil
	}
	return names
}
