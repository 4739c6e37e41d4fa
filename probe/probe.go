// Package probe determines whether a remote database endpoint is reachable,
// and caches the outcome so that callers asking frequently (eg, on every
// write) don't each incur a network round-trip.
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	// HealthPath is the well-known path probed on remote endpoints.
	HealthPath = "/health"
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 20 * time.Second
)

var probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sqlbridge_probe_total",
	Help: "Cumulative number of remote reachability probes, by result.",
}, []string{"result"})

// Prober checks reachability of a normalized endpoint URL.
type Prober interface {
	Probe(ctx context.Context, endpoint string) bool
}

// ProberFunc adapts a function to a Prober.
type ProberFunc func(ctx context.Context, endpoint string) bool

// Probe invokes the ProberFunc.
func (fn ProberFunc) Probe(ctx context.Context, endpoint string) bool { return fn(ctx, endpoint) }

// HTTPProber probes endpoints with an HTTP GET. Receipt of any response,
// including a non-2xx status, means the endpoint is reachable. Only a
// failure to complete the exchange means it's unreachable.
type HTTPProber struct {
	// Client used for probes. If nil, http.DefaultClient is used.
	Client *http.Client
	// Timeout of each probe. If zero, DefaultTimeout is used.
	Timeout time.Duration
}

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context, endpoint string) bool {
	var timeout, client = p.Timeout, p.Client
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "endpoint": endpoint}).Warn("failed to build probe request")
		probesTotal.WithLabelValues("invalid").Inc()
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "endpoint": endpoint}).Debug("endpoint unreachable")
		probesTotal.WithLabelValues("unreachable").Inc()
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))
	_ = resp.Body.Close()

	probesTotal.WithLabelValues("reachable").Inc()
	return true
}

// NormalizeEndpoint maps a remote database URL to the URL which is probed
// for reachability. libSQL and websocket schemes map to their HTTP
// equivalents, localhost-family hosts are canonicalized to 127.0.0.1, any
// path, query, fragment or user information is dropped, and HealthPath is
// appended.
//
//	libsql://db-org.turso.io?tls=1  => https://db-org.turso.io/health
//	http://tenant.localhost:8080/v2 => http://127.0.0.1:8080/health
func NormalizeEndpoint(raw string) (string, error) {
	var u, err = url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.WithMessagef(err, "parsing endpoint %q", raw)
	}

	var scheme = strings.ToLower(u.Scheme)
	switch scheme {
	case "libsql", "wss", "https":
		scheme = "https"
	case "ws", "http":
		scheme = "http"
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q (%s)", u.Scheme, raw)
	}
	if scheme == "https" && u.Query().Get("tls") == "0" {
		scheme = "http" // libsql://host?tls=0 is plaintext.
	}

	var host, port = strings.ToLower(u.Hostname()), u.Port()
	if host == "" {
		return "", errors.Errorf("endpoint %q has no host", raw)
	} else if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		host = "127.0.0.1"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]" // Bare IPv6 literal.
	}

	var out = url.URL{Scheme: scheme, Host: host, Path: HealthPath}
	return out.String(), nil
}
