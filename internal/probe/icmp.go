package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	echoData           = "conwatch"
	DefaultEchoTimeout = time.Second
	SchemeICMP         = "icmp"
)

// ICMPProber sends ICMP echo requests using raw sockets. Targets are
// icmp://host URLs or bare hosts.
type ICMPProber struct {
	id      int
	seq     uint32
	timeout time.Duration
}

// NewICMPProber initializes a prober with a process-scoped identifier.
func NewICMPProber(timeout time.Duration) *ICMPProber {
	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}
	return &ICMPProber{id: os.Getpid() & 0xffff, timeout: timeout}
}

// Probe sends one echo request and waits for the matching reply.
func (p *ICMPProber) Probe(ctx context.Context, target string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Kind: Other, Err: err}
	}

	host, err := icmpHost(target)
	if err != nil {
		return Result{Kind: Malformed, Err: err}
	}
	ip, ipNet, err := resolveIP(ctx, host)
	if err != nil {
		return Failure(err, 0)
	}

	network, protocol, requestType, replyType := icmpSettings(ipNet)
	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return Failure(err, 0)
	}
	defer conn.Close()

	seq := int(atomic.AddUint32(&p.seq, 1) & 0xffff)
	msg := icmp.Message{
		Type: requestType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte(echoData),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return Failure(err, 0)
	}

	if err := conn.SetDeadline(effectiveDeadline(ctx, p.timeout)); err != nil {
		return Failure(err, 0)
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, ip); err != nil {
		return Failure(err, time.Since(start))
	}

	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return Result{Kind: Other, Latency: time.Since(start), Err: err}
		}

		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return Result{Kind: Timeout, Latency: time.Since(start), Err: fmt.Errorf("echo timeout: %w", err)}
			}
			return Failure(err, time.Since(start))
		}
		if peer == nil {
			continue
		}

		reply, err := icmp.ParseMessage(protocol, buf[:n])
		if err != nil || reply.Type != replyType {
			continue
		}
		body, ok := reply.Body.(*icmp.Echo)
		if !ok || body.ID != p.id || body.Seq != seq {
			continue
		}
		return Result{Kind: OK, Latency: time.Since(start)}
	}
}

func icmpHost(target string) (string, error) {
	if !strings.Contains(target, "://") {
		if strings.TrimSpace(target) == "" {
			return "", fmt.Errorf("%w: empty host", ErrMalformed)
		}
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Scheme != SchemeICMP || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q is not an icmp://host target", ErrMalformed, target)
	}
	return u.Hostname(), nil
}

func resolveIP(ctx context.Context, host string) (*net.IPAddr, net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	if len(addrs) == 0 || addrs[0].IP == nil {
		return nil, nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	return &addrs[0], addrs[0].IP, nil
}

func icmpSettings(ip net.IP) (network string, protocol int, requestType icmp.Type, replyType icmp.Type) {
	if ip.To4() != nil {
		return "ip4:icmp", ipv4.ICMPTypeEcho.Protocol(), ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	}
	return "ip6:ipv6-icmp", ipv6.ICMPTypeEchoRequest.Protocol(), ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
}

func effectiveDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}
