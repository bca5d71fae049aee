package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"github.com/scharf/node-proxy-bridge/internal/client"
	"github.com/scharf/node-proxy-bridge/internal/config"
	"github.com/scharf/node-proxy-bridge/internal/handler"
	"github.com/scharf/node-proxy-bridge/internal/metrics"
	"github.com/scharf/node-proxy-bridge/internal/middleware"
	"github.com/scharf/node-proxy-bridge/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("node-proxy-bridge"),
		kong.Description("Path-addressed HTTPS forwarding proxy for clients that cannot honor proxy environment variables."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			logStartupInfo,
			closeClientOnStop,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running
	// streamed responses. Protection is provided by ReadTimeout and
	// IdleTimeout; the upstream side is deliberately unbounded.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// logStartupInfo reports the corporate proxy environment and TLS trust
// mode once at startup, so deployments can see at a glance how outbound
// traffic will be routed.
func logStartupInfo(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)

	logger.Info("proxy server starting", "log_level", cfg.Log.Level)

	httpsProxy := os.Getenv("HTTPS_PROXY")
	httpProxy := os.Getenv("HTTP_PROXY")
	noProxy := os.Getenv("NO_PROXY")
	if httpsProxy == "" && httpProxy == "" {
		logger.Info("no corporate proxy configured - direct connections")
	} else {
		logger.Info("corporate proxy configuration",
			"https_proxy", httpsProxy,
			"http_proxy", httpProxy,
			"no_proxy", noProxy,
		)
	}

	switch mode := cfg.Upstream.TLSMode(); mode {
	case "insecure":
		logger.Warn("TLS verification disabled - only use in trusted environments")
	default:
		logger.Info("TLS verification enabled", "mode", mode)
	}
}

// closeClientOnStop releases the shared upstream connection pool at shutdown.
func closeClientOnStop(lc fx.Lifecycle, c *client.UpstreamClient) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			c.Close()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
