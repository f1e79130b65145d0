package db

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds the startup connect loop. Attempts counts every try, the first included.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig waits up to roughly a minute for Postgres to come up.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  6,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// delay returns the wait after the given failed attempt (1-based), doubling from BaseDelay up to MaxDelay.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(d, c.MaxDelay)
}

// Retry calls fn until it succeeds, the attempts run out or ctx ends. A zero config
// falls back to DefaultRetryConfig.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 || cfg.BaseDelay <= 0 {
		cfg = DefaultRetryConfig()
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", cfg.Attempts, lastErr)
}
