package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-cache-service/internal/app"
	"github.com/kjstillabower/forecast-cache-service/internal/cache"
	"github.com/kjstillabower/forecast-cache-service/internal/config"
	"github.com/kjstillabower/forecast-cache-service/internal/health"
	httphandler "github.com/kjstillabower/forecast-cache-service/internal/http"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	components, err := app.Build(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	handler := httphandler.NewHandler(components.Service, components.Client, healthConfigFor(cfg, components.Store), logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        newLimiter(cfg),
	}, logger)

	var warmer *cache.CacheWarmer
	if cfg.WarmingEnabled && len(cfg.TrackedCoordinates) > 0 {
		warmer = cache.NewCacheWarmer(components.Service, logger, cfg.WarmingTimeout)
		if err := warmer.Start(cfg.TrackedCoordinates, cfg.WarmingInterval); err != nil {
			logger.Error("cache warming not started", zap.Error(err))
			warmer = nil
		}
	}

	srv := newServer(cfg, router)

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("store", components.Store.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	health.SetShuttingDown(true)
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	if inFlight > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
		if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
	}

	if err := components.Close(shutdownCtx); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// healthConfigFor derives /health thresholds from cfg. The store is pinged only
// when its backend supports it.
func healthConfigFor(cfg *config.Config, store cache.Store) *httphandler.HealthConfig {
	hc := &httphandler.HealthConfig{
		Thresholds: health.Config{
			OverloadWindow:       cfg.OverloadWindow,
			OverloadThresholdPct: cfg.OverloadThresholdPct,
			RateLimitRPS:         cfg.RateLimitRPS,
			DegradedWindow:       cfg.DegradedWindow,
			DegradedErrorPct:     cfg.DegradedErrorPct,
		},
		StoreBackend: store.Name(),
		Version:      version,
	}
	if pinger, ok := store.(cache.Pinger); ok {
		hc.StorePinger = pinger
	}
	return hc
}

// newLimiter returns nil, disabling rate limiting, when RateLimitRPS is not positive.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}

// newServer leaves WriteTimeout headroom past RequestTimeout so timed-out requests still get their 503 body.
func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
}
