// Package probe answers two independent liveness questions about a host:
// does a TCP port accept connections, and does HEAD / over HTTP return 200.
// Probes never fail the caller; they log a warning and report FAIL.
package probe

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"instance-reaper/src/logging"
	"instance-reaper/src/metrics"
)

// Result is the binary outcome of a check.
type Result string

const (
	OK   Result = "OK"
	FAIL Result = "FAIL"
)

// DefaultTimeout bounds each check when Prober.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Prober runs TCP and HTTP checks.
type Prober struct {
	Timeout  time.Duration
	HTTPPort int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	dialer *net.Dialer
	client *http.Client
}

// New returns a Prober with the given per-check timeout and HTTP port.
func New(timeout time.Duration, httpPort int, logger *slog.Logger, m *metrics.Metrics) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpPort <= 0 {
		httpPort = 80
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Prober{
		Timeout:  timeout,
		HTTPPort: httpPort,
		Logger:   logger,
		Metrics:  m,
		dialer:   &net.Dialer{Timeout: timeout},
		client: &http.Client{
			Timeout: timeout,
			// a redirect is not a 200
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// TCP reports whether host:port accepts a connection within the timeout.
func (p *Prober) TCP(ctx context.Context, host string, port int) Result {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		p.Logger.Warn("check_tcp_port failed", "host", host, "port", port, "err", err)
		return p.count("tcp", FAIL)
	}
	_ = conn.Close()
	return p.count("tcp", OK)
}

// HTTP issues HEAD http://host:HTTPPort/ and reports OK only for status 200.
func (p *Prober) HTTP(ctx context.Context, host string) Result {
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(p.HTTPPort)) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.Logger.Warn("http_check failed", "url", url, "err", err)
		return p.count("http", FAIL)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.Logger.Warn("http_check failed", "url", url, "err", err)
		return p.count("http", FAIL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		p.Logger.Warn("http_check failed", "url", url, "status", resp.StatusCode)
		return p.count("http", FAIL)
	}
	return p.count("http", OK)
}

func (p *Prober) count(check string, r Result) Result {
	p.Metrics.Check(check, string(r))
	return r
}
