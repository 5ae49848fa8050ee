package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Kind classifies a probe outcome.
type Kind int

const (
	OK Kind = iota
	Timeout
	Malformed
	NetworkUnreachable
	UnknownHost
	Other
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed"
	case NetworkUnreachable:
		return "network-unreachable"
	case UnknownHost:
		return "unknown-host"
	default:
		return "other"
	}
}

// Quiet reports whether failures of this kind are expected while the link
// is down and should not be logged loudly.
func (k Kind) Quiet() bool {
	return k == NetworkUnreachable || k == UnknownHost
}

// Result captures a single probe attempt.
type Result struct {
	Kind    Kind
	Latency time.Duration
	Err     error
}

// OK reports whether the probe succeeded.
func (r Result) OK() bool { return r.Kind == OK }

// Prober attempts one connection to target.
type Prober interface {
	Probe(ctx context.Context, target string) Result
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, target string) Result

func (f ProberFunc) Probe(ctx context.Context, target string) Result { return f(ctx, target) }

// ErrMalformed marks a target that can never be probed.
var ErrMalformed = errors.New("malformed probe target")

// Failure builds a Result from err using Classify.
func Failure(err error, latency time.Duration) Result {
	return Result{Kind: Classify(err), Latency: latency, Err: err}
}

// Classify maps a transport error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return OK
	}
	if errors.Is(err, ErrMalformed) {
		return Malformed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return UnknownHost
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return NetworkUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Other
}
