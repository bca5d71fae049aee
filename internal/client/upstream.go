// Package client provides the pooled HTTP client used for all upstream requests.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/scharf/node-proxy-bridge/internal/config"
	"github.com/scharf/node-proxy-bridge/internal/metrics"
)

// UpstreamClient issues outbound requests to arbitrary HTTPS targets.
// It is created once at startup and shared by all in-flight requests;
// the bounded connection pool is the only cross-request backpressure.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling,
// proxy routing from the standard environment variables, and TLS trust
// per the configured verification mode. The client has no timeout unless
// upstream.timeout_seconds is set: streamed responses may run for as long
// as the caller stays connected.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*UpstreamClient, error) {
	tlsConfig, err := buildTLSConfig(&cfg.Upstream)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		MaxConnsPerHost:     cfg.Upstream.MaxConnections,
		MaxIdleConns:        cfg.Upstream.KeepaliveConnections,
		MaxIdleConnsPerHost: cfg.Upstream.KeepaliveConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}, nil
}

// buildTLSConfig maps the trust mode to a tls.Config: a CA bundle path
// wins over the verify flag; with neither, certificate verification is
// skipped entirely (the original deployment target sits behind
// TLS-intercepting corporate proxies).
func buildTLSConfig(cfg *config.UpstreamConfig) (*tls.Config, error) {
	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle %s: %w", cfg.CABundle, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s contains no valid certificates", cfg.CABundle)
		}
		return &tls.Config{RootCAs: pool}, nil
	}

	if cfg.VerifyTLS {
		return &tls.Config{}, nil
	}

	return &tls.Config{InsecureSkipVerify: true}, nil
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

// DoContext builds and executes a request bound to ctx. When the context
// is canceled (e.g. the inbound caller disconnects), the upstream request
// and any in-progress body read are canceled with it.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) DoContext(ctx context.Context, method, url string, header http.Header, host string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	if host != "" {
		req.Host = host
	}

	return c.Do(req)
}

// Close releases the pooled connections. Called once at shutdown.
func (c *UpstreamClient) Close() {
	c.httpClient.CloseIdleConnections()
}
