package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// ForecastFetcher is implemented by the service layer. Used by CacheWarmer
// to avoid a circular dependency on the service package.
type ForecastFetcher interface {
	GetDailyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)
	GetHourlyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)
}

// CacheWarmer populates the store for tracked coordinates by resolving their
// daily and hourly forecasts through the fetcher.
type CacheWarmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each coordinate; zero means 30s.
func NewCacheWarmer(fetcher ForecastFetcher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, timeout: timeout}
}

// Warm resolves both forecast types for each coordinate concurrently.
// Returns an aggregated error if any coordinate failed.
func (w *CacheWarmer) Warm(ctx context.Context, coords []models.Coordinate) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming forecast cache", zap.Int("locations", len(coords)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(coords))
	for _, c := range coords {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.warmOne(ctx, c); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("forecast cache warming complete",
		zap.Int("locations", len(coords)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

func (w *CacheWarmer) warmOne(ctx context.Context, c models.Coordinate) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if _, _, err := w.fetcher.GetDailyForecast(ctx, c.Latitude, c.Longitude); err != nil {
		return fmt.Errorf("warm daily %v,%v: %w", c.Latitude, c.Longitude, err)
	}
	if _, _, err := w.fetcher.GetHourlyForecast(ctx, c.Latitude, c.Longitude); err != nil {
		return fmt.Errorf("warm hourly %v,%v: %w", c.Latitude, c.Longitude, err)
	}
	return nil
}

// Start runs Warm immediately and then every interval on a gocron scheduler.
// Runs never overlap. Stop the schedule with Stop.
func (w *CacheWarmer) Start(coords []models.Coordinate, interval time.Duration) error {
	if len(coords) == 0 {
		w.logger.Info("cache warming: no tracked locations configured")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("cache warming interval must be positive, got %v", interval)
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		if err := w.Warm(context.Background(), coords); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}

	w.mu.Lock()
	w.scheduler = s
	w.mu.Unlock()
	s.StartAsync()
	return nil
}

// Stop cancels future warming runs.
func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		w.scheduler.Stop()
		w.scheduler = nil
	}
}
