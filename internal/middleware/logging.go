// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// Context keys shared between the request logger and the forwarding
// pipeline. The logger assigns the correlation id before the handler
// runs; the handler reports the resolved target and streaming decision
// back so the completion line carries the forwarding outcome.
const (
	ContextKeyRequestID = "bridge.request_id"
	ContextKeyTarget    = "bridge.target"
	ContextKeyStreaming = "bridge.streaming"
)

// RequestLogger returns an Echo middleware that assigns each request a
// correlation id derived from method and millisecond timestamp, then logs
// the request with slog once handling completes.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := fmt.Sprintf("%s-%d", c.Request().Method, start.UnixMilli())
			c.Set(ContextKeyRequestID, requestID)

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID,
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if target, ok := c.Get(ContextKeyTarget).(string); ok {
				attrs = append(attrs, "target", target)
			}
			if streaming, ok := c.Get(ContextKeyStreaming).(bool); ok {
				attrs = append(attrs, "streaming", streaming)
			}

			logger.Info("request", attrs...)

			return err
		}
	}
}

// RequestID returns the correlation id assigned by RequestLogger, deriving
// a fresh one when the middleware did not run (direct handler invocation).
func RequestID(c echo.Context) string {
	if id, ok := c.Get(ContextKeyRequestID).(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", c.Request().Method, time.Now().UnixMilli())
}
