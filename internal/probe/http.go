package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultConnectTimeout  = 500 * time.Millisecond
	DefaultResponseTimeout = 5 * time.Second
	DefaultUserAgent       = "Mozilla/4.0 (conwatch)"

	maxBodyDrain = 4 << 10
)

type HTTPConfig struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	UserAgent       string
}

// HTTPProber opens a fresh connection to an http(s) URL on every probe.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber builds a prober. Zero fields take the package defaults.
func NewHTTPProber(cfg HTTPConfig) *HTTPProber {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   cfg.ResponseTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &HTTPProber{
		client: &http.Client{
			Transport: roundTripperWithUA{rt: transport, userAgent: cfg.UserAgent},
		},
	}
}

// roundTripperWithUA injects a User-Agent into every request.
type roundTripperWithUA struct {
	rt        http.RoundTripper
	userAgent string
}

func (r roundTripperWithUA) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	return r.rt.RoundTrip(req)
}

// Probe issues a GET and reports the outcome. A status of 400 or above is a failure.
func (p *HTTPProber) Probe(ctx context.Context, target string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Kind: Other, Err: err}
	}
	u, err := parseHTTPURL(target)
	if err != nil {
		return Result{Kind: Malformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{Kind: Malformed, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Failure(err, latency)
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxBodyDrain)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{Kind: Other, Latency: latency, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return Result{Kind: OK, Latency: latency}
}

func parseHTTPURL(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrMalformed, target)
	}
	return u, nil
}
