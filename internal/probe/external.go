package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var timePattern = regexp.MustCompile(`time=([0-9.]+)\s*ms`)

// ExternalPinger invokes the system ping command for environments without
// raw socket access.
type ExternalPinger struct {
	timeout time.Duration
}

func NewExternalPinger(timeout time.Duration) *ExternalPinger {
	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}
	return &ExternalPinger{timeout: timeout}
}

// Probe runs ping once against the target host and parses the RTT from stdout.
func (p *ExternalPinger) Probe(ctx context.Context, target string) Result {
	host, err := icmpHost(target)
	if err != nil {
		return Result{Kind: Malformed, Err: err}
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ping", pingArgs(host, p.timeout)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return Failure(ctx.Err(), time.Since(start))
		}
		// ping exits non-zero when no reply arrived within -W.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return Result{Kind: Timeout, Latency: time.Since(start), Err: fmt.Errorf("external ping: no reply from %s", host)}
		}
		return Result{Kind: Other, Latency: time.Since(start), Err: fmt.Errorf("external ping failed: %w", err)}
	}

	rtt := parseRTT(out)
	if rtt == 0 {
		rtt = time.Since(start)
	}
	return Result{Kind: OK, Latency: rtt}
}

func pingArgs(host string, timeout time.Duration) []string {
	switch runtime.GOOS {
	case "darwin":
		timeoutMs := max(100, int(timeout.Milliseconds()))
		return []string{"-n", "-c", "1", "-W", strconv.Itoa(timeoutMs), host}
	default:
		timeoutSec := max(1, int(timeout.Seconds()+0.5))
		return []string{"-n", "-c", "1", "-W", strconv.Itoa(timeoutSec), host}
	}
}

func parseRTT(output []byte) time.Duration {
	matches := timePattern.FindSubmatch(output)
	if len(matches) < 2 {
		return 0
	}
	value, err := strconv.ParseFloat(string(matches[1]), 64)
	if err != nil {
		return 0
	}
	return time.Duration(value * float64(time.Millisecond))
}
