// Package service implements the core request-forwarding pipeline.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/scharf/node-proxy-bridge/internal/client"
	"github.com/scharf/node-proxy-bridge/internal/model"
)

// excludedResponseHeaders are dropped from relayed buffered responses.
// The serving layer recomputes framing and encoding; forwarding the
// upstream values verbatim would double-specify them.
var excludedResponseHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
	"Connection":        true,
}

// ProxyService executes forwarded requests through the shared upstream client.
type ProxyService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward issues a buffered request: the upstream response is read in full
// before anything is reported back. Status, body, and headers (minus the
// excluded framing set) are relayed verbatim by the caller.
func (s *ProxyService) Forward(pr *model.RequestSnapshot, target string) (*model.ForwardResult, error) {
	resp, start, err := s.open(pr, target)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.ForwardResult{
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// OpenStream issues the request and hands back the live response without
// reading its body. The caller owns the relay loop and must close the body.
func (s *ProxyService) OpenStream(pr *model.RequestSnapshot, target string) (*http.Response, error) {
	resp, _, err := s.open(pr, target)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *ProxyService) open(pr *model.RequestSnapshot, target string) (*http.Response, time.Time, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse target %q: %w", target, err)
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target_host", u.Host,
	)

	ctx := pr.Ctx
	header := forwardHeaders(pr.Header)

	start := time.Now()
	resp, err := s.client.DoContext(ctx, pr.Method, target, header, u.Host, bytes.NewReader(pr.Body))
	if err != nil {
		return nil, start, err
	}
	return resp, start, nil
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if excludedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
