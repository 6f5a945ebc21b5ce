package filter

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		candidate string
		want      bool
	}{
		{"10.0.*", "10.0.5.9", true},
		{"10.0.*", "192.168.1.1", false},
		{"10.0.*", "10.0.", true},
		{"*", "", true},
		{"*", "anything", true},
		{"?", "", false},
		{"?", "a", true},
		{"??", "a", false},
		{"*.example.com", "dev.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.Example.com", "dev.example.com", false}, // case-sensitive
		{"192.168.?.*", "192.168.1.77", true},
		{"192.168.?.*", "192.168.10.77", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"[ab]", "a", false}, // brackets are literals
		{"[ab]", "[ab]", true},
		{`a\*`, `a\xyz`, true},
		{"", "", false},
		{"", "10.0.5.9", false},
		{"héll?", "héllo", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.candidate, func(t *testing.T) {
			if got := Match(tt.pattern, tt.candidate); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.candidate, got, tt.want)
			}
		})
	}
}

// referenceMatch compiles the wildcard pattern into an anchored regexp.
func referenceMatch(pattern, candidate string) bool {
	if pattern == "" {
		return false
	}
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String()).MatchString(candidate)
}

func TestMatch_AgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	patternAlphabet := []rune("ab.*?")
	candidateAlphabet := []rune("ab.")

	gen := func(alphabet []rune, max int) string {
		n := rng.Intn(max + 1)
		out := make([]rune, n)
		for i := range out {
			out[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(out)
	}

	for i := 0; i < 20000; i++ {
		p := gen(patternAlphabet, 7)
		s := gen(candidateAlphabet, 9)
		if got, want := Match(p, s), referenceMatch(p, s); got != want {
			t.Fatalf("Match(%q, %q) = %v, reference says %v", p, s, got, want)
		}
	}
}

// ── Filter ───────────────────────────────────────────────────────────

type fakeResolver struct {
	names map[string][]string
	calls int
}

func (r *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	r.calls++
	names, ok := r.names[addr]
	if !ok {
		return nil, errors.New("no PTR record")
	}
	return names, nil
}

func tcpAddr(ip string) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}
}

func TestFilter_EmptyPatternAdmitsWithoutLookup(t *testing.T) {
	r := &fakeResolver{}
	f := &Filter{Resolver: r}
	v := f.Admit(context.Background(), tcpAddr("192.168.1.1"))
	if !v.Admitted {
		t.Fatal("empty pattern should admit everyone")
	}
	if r.calls != 0 {
		t.Errorf("no lookup expected, got %d", r.calls)
	}
}

func TestFilter_AdmitByAddress(t *testing.T) {
	r := &fakeResolver{}
	f := &Filter{Pattern: "10.0.*", Resolver: r}
	v := f.Admit(context.Background(), tcpAddr("10.0.5.9"))
	if !v.Admitted || v.IP != "10.0.5.9" {
		t.Fatalf("verdict = %+v", v)
	}
	if r.calls != 0 {
		t.Errorf("address match should skip the reverse lookup, got %d calls", r.calls)
	}
}

func TestFilter_RejectWithoutMatchingName(t *testing.T) {
	r := &fakeResolver{names: map[string][]string{
		"192.168.1.1": {"printer.lan."},
	}}
	f := &Filter{Pattern: "10.0.*", Resolver: r}
	v := f.Admit(context.Background(), tcpAddr("192.168.1.1"))
	if v.Admitted {
		t.Fatal("192.168.1.1 should be rejected")
	}
	if v.Host != "printer.lan" || v.IP != "192.168.1.1" {
		t.Errorf("verdict = %+v", v)
	}
	if r.calls != 1 {
		t.Errorf("expected one lookup, got %d", r.calls)
	}
}

func TestFilter_AdmitByName(t *testing.T) {
	r := &fakeResolver{names: map[string][]string{
		"172.16.0.4": {"web1.internal.", "dev.example.com."},
	}}
	f := &Filter{Pattern: "*.example.com", Resolver: r}
	v := f.Admit(context.Background(), tcpAddr("172.16.0.4"))
	if !v.Admitted || v.Host != "dev.example.com" {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestFilter_LookupFailureRejects(t *testing.T) {
	f := &Filter{Pattern: "*.example.com", Resolver: &fakeResolver{}}
	v := f.Admit(context.Background(), tcpAddr("8.8.8.8"))
	if v.Admitted {
		t.Fatal("failed lookup must not admit")
	}
	if v.Host != "8.8.8.8" {
		t.Errorf("host should fall back to the IP, got %q", v.Host)
	}
}

type slowResolver struct{}

func (slowResolver) LookupAddr(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFilter_LookupTimeout(t *testing.T) {
	f := &Filter{Pattern: "nomatch", Resolver: slowResolver{}, Timeout: 20 * time.Millisecond}

	done := make(chan Verdict, 1)
	go func() { done <- f.Admit(context.Background(), tcpAddr("10.1.1.1")) }()

	select {
	case v := <-done:
		if v.Admitted {
			t.Error("timed-out lookup must not admit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Admit did not honour the lookup timeout")
	}
}
