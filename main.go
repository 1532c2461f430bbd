package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/audit"
	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/lankasat/sentinel-bridge/internal/flood"
	"github.com/lankasat/sentinel-bridge/internal/observe"
	"github.com/lankasat/sentinel-bridge/internal/ratelimit"
	"github.com/lankasat/sentinel-bridge/internal/sentinel"
	"github.com/lankasat/sentinel-bridge/internal/server"
	"github.com/lankasat/sentinel-bridge/internal/weather"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(ctx context.Context, cfg config.Config, stores *cache.Stores, hooks *server.ShutdownHooks) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	limiter := ratelimit.New(
		cfg.Server.RateLimitRequests,
		time.Duration(cfg.Server.RateLimitWindowSeconds)*time.Second,
	)

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Every route is a GET except the cache reset, and
	// none carries a meaningful body.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	publicRouteMiddleware := alice.New(requestLimiter, auditor, limiter.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	// layer catalogue: built-ins, optionally overlaid from file
	registry := sentinel.NewRegistry()
	if cfg.Sentinel.LayerFile != "" {
		var err error
		registry, err = sentinel.LoadRegistry(cfg.Sentinel.LayerFile)
		if err != nil {
			return nil, fmt.Errorf("layer registry configuration failed: %w", err)
		}
	}

	// the tile pipeline and the upstream collaborators share the
	// configured stores
	tokens := sentinel.NewTokenSource(cfg.Sentinel, stores.Tokens)
	fetcher := sentinel.NewFetcher(cfg.Sentinel, registry, stores.Tiles, tokens)

	forecasts := weather.New(cfg.Weather, stores.API)
	rivers := flood.New(cfg.Flood, stores.API)

	hooks.AddContext("caches", func(ctx context.Context) error {
		stores.ClearAll(ctx)
		return nil
	})

	mux.Handle("GET /{$}", publicRouteMiddleware.Then(handleIndex()))
	mux.Handle("GET /layers", publicRouteMiddleware.Then(handleLayers(registry)))
	mux.Handle("GET /tile", publicRouteMiddleware.Then(handleTile(fetcher)))
	mux.Handle("GET /token", publicRouteMiddleware.Then(handleTokenCheck(tokens)))

	mux.Handle("GET /cache/stats", publicRouteMiddleware.Then(handleCacheStats(stores)))
	mux.Handle("POST /cache/clear", publicRouteMiddleware.Then(handleCacheClear(stores)))

	mux.Handle("GET /weather", publicRouteMiddleware.Then(handleWeatherSummary(forecasts)))
	mux.Handle("GET /weather/locations", publicRouteMiddleware.Then(handleWeatherLocations()))
	mux.Handle("GET /weather/{location}", publicRouteMiddleware.Then(handleWeatherCurrent(forecasts)))
	mux.Handle("GET /weather/forecast/{location}", publicRouteMiddleware.Then(handleWeatherForecast(forecasts)))

	mux.Handle("GET /rivers", publicRouteMiddleware.Then(riverProxy("rivers", rivers.Rivers)))
	mux.Handle("GET /rivers/basins", publicRouteMiddleware.Then(riverProxy("basins", rivers.Basins)))
	mux.Handle("GET /rivers/stations", publicRouteMiddleware.Then(riverProxy("stations", rivers.Stations)))
	mux.Handle("GET /rivers/levels", publicRouteMiddleware.Then(riverProxy("levels", rivers.LatestLevels)))
	mux.Handle("GET /rivers/alerts", publicRouteMiddleware.Then(riverProxy("alerts", rivers.ActiveAlerts)))
	mux.Handle("GET /rivers/alerts/summary", publicRouteMiddleware.Then(riverProxy("alert summary", rivers.AlertSummary)))

	// healthchecks are not included in telemetry, auditing or rate
	// limiting: platform probes poll them relentlessly
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck(stores)))

	// CORS applies ahead of routing so browser preflights are answered
	// even for routes registered with a method pattern
	return allowCrossOrigin(cfg.Server.AllowedOrigins)(mux), nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	stores, err := cache.NewStores(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache configuration failed: %w", err)
	}

	hooks := server.ShutdownHooks{}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, stores, &hooks)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// telemetry flushes last, after the caches hook has run
	hooks.Add("telemetry", func() error {
		shutdownTelemetry()
		return nil
	})

	// Warm the token cache so the first tile request doesn't pay for the
	// credential exchange. A failure here is logged, not fatal: the
	// pipeline retries on demand.
	go warmTokenCache(ctx, sentinel.NewTokenSource(cfg.Sentinel, stores.Tokens))

	// Reclaim expired cache entries that are never observed by a Get.
	go sweepStores(ctx, stores, time.Duration(cfg.Cache.SweepIntervalSeconds)*time.Second)

	// start the server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	err = serveHTTP(cfg.Server, srv, &hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}

func warmTokenCache(ctx context.Context, tokens *sentinel.TokenSource) {
	defer func() {
		if r := recover(); r != nil {
			log.Info().Interface("recover", r).Msg("token warm-up failed; tokens will be fetched on demand.")
		}
	}()

	if _, err := tokens.Token(ctx); err != nil {
		log.Warn().Err(err).Msg("startup authentication failed, continuing without a warm token")
		return
	}

	log.Info().Msg("authenticated with the imagery provider")
}

func sweepStores(ctx context.Context, stores *cache.Stores, interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Info().Interface("recover", r).Msg("background cache sweep failed; will attempt to continue.")
		}
	}()

	for {
		select {
		case <-time.After(interval):
			// continue
		case <-ctx.Done():
			log.Info().Msg("sweep goroutine shutting down gracefully")
			return
		}

		if removed := stores.SweepExpired(ctx); removed > 0 {
			log.Debug().Int("removed", removed).Msg("cache sweep reclaimed expired entries")
		}
	}
}
