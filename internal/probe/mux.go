package probe

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Mux routes a target to a prober by URL scheme.
type Mux struct {
	routes map[string]Prober
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]Prober)}
}

// Handle registers p for scheme, replacing any previous route.
func (m *Mux) Handle(scheme string, p Prober) *Mux {
	m.routes[strings.ToLower(scheme)] = p
	return m
}

func (m *Mux) Probe(ctx context.Context, target string) Result {
	u, err := url.Parse(target)
	if err != nil {
		return Result{Kind: Malformed, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	p, ok := m.routes[strings.ToLower(u.Scheme)]
	if !ok {
		return Result{Kind: Malformed, Err: fmt.Errorf("%w: no prober for scheme %q", ErrMalformed, u.Scheme)}
	}
	return p.Probe(ctx, target)
}

// Options configures the default prober set.
type Options struct {
	ConnectTimeout time.Duration
	UserAgent      string
}

// NewDefault returns a Mux serving http, https and icmp targets. ICMP
// falls back to the system ping command when raw sockets are not permitted.
func NewDefault(opts Options) *Mux {
	httpProber := NewHTTPProber(HTTPConfig{
		ConnectTimeout: opts.ConnectTimeout,
		UserAgent:      opts.UserAgent,
	})
	echoTimeout := max(DefaultEchoTimeout, opts.ConnectTimeout)
	icmpProber := NewFallbackProber(NewICMPProber(echoTimeout), NewExternalPinger(echoTimeout))

	return NewMux().
		Handle("http", httpProber).
		Handle("https", httpProber).
		Handle(SchemeICMP, icmpProber)
}
