package middleware_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/scharf/node-proxy-bridge/internal/client"
	"github.com/scharf/node-proxy-bridge/internal/config"
	"github.com/scharf/node-proxy-bridge/internal/handler"
	"github.com/scharf/node-proxy-bridge/internal/service"
)

// TestRateLimiter_CatchAllForwardRoute runs the limiter in front of the
// catch-all forwarding route: the first request must reach the upstream,
// further requests over the budget get a 429 before any forwarding happens.
func TestRateLimiter_CatchAllForwardRoute(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			MaxConnections:       10,
			KeepaliveConnections: 10,
		},
	}
	uc, err := client.NewUpstreamClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}
	svc := service.NewProxyService(uc, logger)
	proxy := handler.NewProxyHandler(svc, nil, logger)

	e := echo.New()
	// 1 request per second, burst of 1 — second request should be rejected.
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(1))
	e.Use(echomw.RateLimiter(store))
	e.Any("/*", proxy.Handle)

	path := "/" + strings.TrimPrefix(upstream.URL, "https://")

	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if upstreamHits != 1 {
		t.Fatalf("upstream hits after first request = %d, want 1", upstreamHits)
	}

	// Subsequent requests should be rate-limited (429) without being forwarded.
	got429 := false
	for i := 0; i < 10; i++ {
		req = httptest.NewRequest(http.MethodGet, path, http.NoBody)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}
	if upstreamHits > 2 {
		t.Errorf("upstream hits = %d, rate-limited requests must not be forwarded", upstreamHits)
	}
}
