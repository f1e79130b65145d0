package health

import (
	"sync/atomic"
	"time"
)

// Status values reported by GET /health.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Config holds thresholds for health evaluation. Zero values disable the corresponding check.
type Config struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

// Result is an evaluated health status with the reason that produced it.
type Result struct {
	Status string
	Reason string
}

// Serving reports whether the instance should keep receiving traffic.
func (r Result) Serving() bool {
	return r.Status == StatusHealthy
}

// Evaluate determines the current health status from the shutdown flag, the provider
// check result and the outcome tracker.
// Decision order: shutting-down > provider unavailable > overloaded > degraded > healthy.
func Evaluate(cfg Config, providerErr error) Result {
	return evaluate(cfg, providerErr, &defaultTracker)
}

func evaluate(cfg Config, providerErr error, t *Tracker) Result {
	if IsShuttingDown() {
		return Result{StatusShuttingDown, "signal"}
	}
	if providerErr != nil {
		return Result{StatusDegraded, "weather_api_unavailable"}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(t.RequestCount(cfg.OverloadWindow)) > threshold {
			return Result{StatusOverloaded, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errors, total := t.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errors)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return Result{StatusDegraded, "error_rate_breach"}
		}
	}
	return Result{StatusHealthy, ""}
}
