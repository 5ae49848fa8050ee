package probe

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
)

// FallbackProber delegates to primary, then secondary when the primary
// lacks the privileges it needs.
type FallbackProber struct {
	primary   Prober
	secondary Prober
}

func NewFallbackProber(primary, secondary Prober) *FallbackProber {
	return &FallbackProber{primary: primary, secondary: secondary}
}

func (p *FallbackProber) Probe(ctx context.Context, target string) Result {
	result := p.primary.Probe(ctx, target)
	if result.OK() || !isPermissionError(result.Err) {
		return result
	}
	return p.secondary.Probe(ctx, target)
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied")
}
