package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// requestTracker counts requests being served so shutdown can drain them
// after the listener closes.
type requestTracker struct {
	active atomic.Int64
}

// begin marks a request as started and returns the func that marks it finished.
// The returned func is safe to call more than once.
func (t *requestTracker) begin() func() {
	t.active.Add(1)
	observability.HTTPRequestsInFlight.Inc()
	var finished atomic.Bool
	return func() {
		if finished.CompareAndSwap(false, true) {
			t.active.Add(-1)
			observability.HTTPRequestsInFlight.Dec()
		}
	}
}

func (t *requestTracker) count() int64 {
	return t.active.Load()
}

// drain polls every interval until no requests are active or ctx ends.
func (t *requestTracker) drain(ctx context.Context, interval time.Duration) error {
	if t.count() == 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.count() == 0 {
				return nil
			}
		}
	}
}

var inFlight requestTracker

// InFlightCount returns the number of requests currently inside MetricsMiddleware.
func InFlightCount() int64 {
	return inFlight.count()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return inFlight.drain(ctx, checkInterval)
}
