package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-cache-service/internal/cache"
	"github.com/kjstillabower/forecast-cache-service/internal/config"
)

type pingingStore struct{ *cache.InMemoryStore }

func (pingingStore) Ping(ctx context.Context) error { return nil }

func TestHealthConfigFor(t *testing.T) {
	cfg := &config.Config{
		RateLimitRPS:         100,
		OverloadWindow:       time.Minute,
		OverloadThresholdPct: 80,
		DegradedWindow:       2 * time.Minute,
		DegradedErrorPct:     25,
	}

	hc := healthConfigFor(cfg, cache.NewDisabledStore())
	if hc.StoreBackend != cache.BackendDisabled {
		t.Errorf("StoreBackend = %q, want %q", hc.StoreBackend, cache.BackendDisabled)
	}
	if hc.StorePinger != nil {
		t.Error("disabled store should not be pinged")
	}
	if hc.Thresholds.RateLimitRPS != 100 || hc.Thresholds.DegradedErrorPct != 25 || hc.Thresholds.OverloadWindow != time.Minute {
		t.Errorf("Thresholds = %+v", hc.Thresholds)
	}
	if hc.Version != version {
		t.Errorf("Version = %q, want %q", hc.Version, version)
	}

	hc = healthConfigFor(cfg, pingingStore{cache.NewInMemoryStore()})
	if hc.StorePinger == nil {
		t.Error("expected pinger for a store implementing Ping")
	}
}

func TestNewLimiter(t *testing.T) {
	if l := newLimiter(&config.Config{RateLimitRPS: 0}); l != nil {
		t.Error("expected nil limiter when RateLimitRPS is 0")
	}
	l := newLimiter(&config.Config{RateLimitRPS: 5, RateLimitBurst: 2})
	if l == nil {
		t.Fatal("expected limiter")
	}
	if l.Burst() != 2 || float64(l.Limit()) != 5 {
		t.Errorf("limiter = (%v rps, burst %d), want (5, 2)", l.Limit(), l.Burst())
	}
}

func TestNewServer(t *testing.T) {
	h := http.NewServeMux()
	srv := newServer(&config.Config{ServerPort: "9090", RequestTimeout: 15 * time.Second}, h)
	if srv.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", srv.Addr)
	}
	if srv.WriteTimeout != 20*time.Second {
		t.Errorf("WriteTimeout = %v, want 20s", srv.WriteTimeout)
	}
	if srv.Handler != h {
		t.Error("server does not use the given handler")
	}
}
