// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
	"time"
)

// RequestSnapshot captures an inbound request at the boundary. The body is
// read in full exactly once; the snapshot is never mutated afterwards.
// Ctx is the inbound request context: canceling it (caller disconnect)
// abandons the outbound request and any in-flight stream.
type RequestSnapshot struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ForwardResult is a fully buffered upstream response.
type ForwardResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// StreamSummary describes a completed (or aborted) streaming relay.
type StreamSummary struct {
	Chunks   int
	Bytes    int64
	Duration time.Duration
}
