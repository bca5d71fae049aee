package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scharf/node-proxy-bridge/internal/metrics"
	"github.com/scharf/node-proxy-bridge/internal/middleware"
	"github.com/scharf/node-proxy-bridge/internal/model"
	"github.com/scharf/node-proxy-bridge/internal/route"
	"github.com/scharf/node-proxy-bridge/internal/service"
)

const unknownRouteMessage = "Unknown route - path must contain a domain"

// streamBufSize is the read buffer for the streaming relay. Chunks are
// relayed as they arrive; the buffer only bounds a single read.
const streamBufSize = 32 * 1024

// ProxyHandler resolves inbound paths into upstream targets and relays
// the response, buffered or streamed.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is
// optional; pass nil to disable stream counters.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle runs the forwarding pipeline: resolve the path, decide the mode,
// then relay. Resolution failure is the only caller-addressable error and
// responds 404; everything past resolution is classified by mapError.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	requestID := middleware.RequestID(c)
	logger := h.logger.With("request_id", requestID)

	logger.Info("received request", "method", req.Method, "path", req.URL.Path)
	logger.Debug("request headers", "headers", service.RedactHeaders(req.Header))

	directives, target, ok := route.Resolve(req.URL.Path)
	if !ok {
		logger.Warn("unknown route", "path", req.URL.Path)
		return c.String(http.StatusNotFound, unknownRouteMessage)
	}
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// The body limit middleware surfaces its rejection through the
		// reader; let echo render it with the right status.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		logger.Error("reading request body", "err", err)
		return h.respondInternal(c)
	}

	pr := &model.RequestSnapshot{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}

	streaming := service.ShouldStream(directives, body)
	c.Set(middleware.ContextKeyTarget, target)
	c.Set(middleware.ContextKeyStreaming, streaming)
	logger.Info("proxying request",
		"method", pr.Method,
		"target", target,
		"directives", directives,
		"streaming", streaming,
		"body_bytes", len(body),
	)

	if streaming {
		return h.relayStream(c, logger, pr, target)
	}
	return h.relayBuffered(c, logger, pr, target)
}

// relayBuffered forwards the request and copies upstream status, headers
// (minus the framing set, already filtered by the service) and body verbatim.
func (h *ProxyHandler) relayBuffered(c echo.Context, logger *slog.Logger, pr *model.RequestSnapshot, target string) error {
	result, err := h.service.Forward(pr, target)
	if err != nil {
		return h.mapError(c, logger, err)
	}

	logger.Info("response received",
		"status", result.StatusCode,
		"bytes", len(result.Body),
		"duration_ms", result.Duration.Milliseconds(),
	)
	logger.Debug("response headers", "headers", result.Header)

	res := c.Response()
	for key, vals := range result.Header {
		for _, v := range vals {
			res.Header().Add(key, v)
		}
	}
	res.WriteHeader(result.StatusCode)

	if _, err := res.Write(result.Body); err != nil {
		logger.Error("writing buffered response", "err", err)
	}
	return nil
}

// relayStream commits a text/event-stream response, then copies upstream
// chunks to the caller as they arrive, flushing after each one. Once the
// headers are out the status is irrevocable: any upstream failure, before
// or mid-stream, only ends the byte sequence early. No error payload is
// ever injected, so the relayed bytes are exactly the upstream bytes.
func (h *ProxyHandler) relayStream(c echo.Context, logger *slog.Logger, pr *model.RequestSnapshot, target string) error {
	res := c.Response()
	hdr := res.Header()
	hdr.Set(echo.HeaderContentType, "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set(echo.HeaderAccessControlAllowOrigin, "*")
	hdr.Set(echo.HeaderAccessControlAllowHeaders, "*")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	start := time.Now()

	resp, err := h.service.OpenStream(pr, target)
	if err != nil {
		logger.Error("stream request failed", "err", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	logger.Info("stream started", "status", resp.StatusCode)
	logger.Debug("stream response headers", "headers", resp.Header)

	var (
		chunks     int
		totalBytes int64
	)
	buf := make([]byte, streamBufSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunks++
			totalBytes += int64(n)
			if _, werr := res.Write(buf[:n]); werr != nil {
				logger.Warn("client disconnected mid-stream",
					"err", werr,
					"chunks", chunks,
					"bytes", totalBytes,
				)
				break
			}
			res.Flush()
			// Log every 100 chunks to bound log volume.
			if chunks%100 == 0 {
				logger.Debug("stream progress", "chunks", chunks, "bytes", totalBytes)
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				logger.Warn("stream closed by upstream",
					"err", rerr,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}
			break
		}
	}

	summary := model.StreamSummary{
		Chunks:   chunks,
		Bytes:    totalBytes,
		Duration: time.Since(start),
	}

	if h.metrics != nil {
		h.metrics.StreamChunks.Add(float64(summary.Chunks))
		h.metrics.StreamBytes.Add(float64(summary.Bytes))
	}

	logger.Info("stream completed",
		"chunks", summary.Chunks,
		"bytes", summary.Bytes,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return nil
}

// mapError classifies a forwarding failure into a caller-facing status:
// timeouts are 504, any other transport fault 502, everything else 500.
// Upstream HTTP error statuses never reach here; they are relayed verbatim.
func (h *ProxyHandler) mapError(c echo.Context, logger *slog.Logger, err error) error {
	errorID := fmt.Sprintf("error-%d", time.Now().UnixMilli())
	logger.Error("proxy error", "err", err, "error_id", errorID)

	c.Response().Header().Set("X-Error-ID", errorID)

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return c.String(http.StatusGatewayTimeout, "Proxy error: upstream request timed out")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.String(http.StatusBadGateway, "Proxy error: upstream host unreachable")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.String(http.StatusBadGateway, "Proxy error: upstream connection failed")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return c.String(http.StatusBadGateway, "Proxy error: upstream connection failed")
	}

	return c.String(http.StatusInternalServerError, "Internal proxy error")
}

func (h *ProxyHandler) respondInternal(c echo.Context) error {
	errorID := fmt.Sprintf("error-%d", time.Now().UnixMilli())
	c.Response().Header().Set("X-Error-ID", errorID)
	return c.String(http.StatusInternalServerError, "Internal proxy error")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
