package probe_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"instance-reaper/src/probe"
)

func splitPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port := splitPort(t, l.Addr().String())
	l.Close()
	return port
}

func TestTCP_OpenPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	host, port := splitPort(t, l.Addr().String())

	p := probe.New(time.Second, 80, nil, nil)
	if got := p.TCP(context.Background(), host, port); got != probe.OK {
		t.Fatalf("TCP = %s, want OK", got)
	}
}

func TestTCP_ClosedPortLogsWarning(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	p := probe.New(time.Second, 80, logger, nil)

	if got := p.TCP(context.Background(), "127.0.0.1", closedPort(t)); got != probe.FAIL {
		t.Fatalf("TCP = %s, want FAIL", got)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "check_tcp_port") {
		t.Fatalf("expected warning log; got %q", logs.String())
	}
}

func TestHTTP(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   probe.Result
	}{
		{"ok", http.StatusOK, probe.OK},
		{"not found", http.StatusNotFound, probe.FAIL},
		{"server error", http.StatusInternalServerError, probe.FAIL},
		{"redirect", http.StatusMovedPermanently, probe.FAIL},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var method, path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				method, path = r.Method, r.URL.Path
				if c.status == http.StatusMovedPermanently {
					http.Redirect(w, r, "/elsewhere", c.status)
					return
				}
				w.WriteHeader(c.status)
			}))
			defer srv.Close()
			host, port := splitPort(t, strings.TrimPrefix(srv.URL, "http://"))

			var logs bytes.Buffer
			p := probe.New(time.Second, port, slog.New(slog.NewTextHandler(&logs, nil)), nil)
			if got := p.HTTP(context.Background(), host); got != c.want {
				t.Fatalf("HTTP = %s, want %s", got, c.want)
			}
			if method != http.MethodHead || path != "/" {
				t.Fatalf("request = %s %s, want HEAD /", method, path)
			}
			if c.want == probe.FAIL && !strings.Contains(logs.String(), "status="+strconv.Itoa(c.status)) {
				t.Fatalf("expected status in warning; got %q", logs.String())
			}
		})
	}
}

func TestHTTP_TransportError(t *testing.T) {
	p := probe.New(time.Second, closedPort(t), nil, nil)
	if got := p.HTTP(context.Background(), "127.0.0.1"); got != probe.FAIL {
		t.Fatalf("HTTP = %s, want FAIL", got)
	}
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)
	host, port := splitPort(t, strings.TrimPrefix(srv.URL, "http://"))

	p := probe.New(100*time.Millisecond, port, nil, nil)
	start := time.Now()
	if got := p.HTTP(context.Background(), host); got != probe.FAIL {
		t.Fatalf("HTTP = %s, want FAIL", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not honoured")
	}
}
