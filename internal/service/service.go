package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-cache-service/internal/cache"
	"github.com/kjstillabower/forecast-cache-service/internal/client"
	"github.com/kjstillabower/forecast-cache-service/internal/models"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// Options configures optional WeatherService behaviour.
type Options struct {
	// CoalesceEnabled shares one in-flight provider call among concurrent misses
	// for the same key within this process. Off by default.
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	// Logger is used when the request context carries no logger.
	Logger *zap.Logger
}

// WeatherService resolves location keys and forecasts for coordinates, serving
// from the store when a usable record exists and otherwise fetching from the
// provider and persisting the result. Reads and writes are not synchronized:
// concurrent misses for one key may each fetch and insert, and later reads take
// the first record.
type WeatherService struct {
	client          client.WeatherClient
	store           cache.Store
	logger          *zap.Logger
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewWeatherService creates a WeatherService. A nil store behaves as a disabled store.
func NewWeatherService(weatherClient client.WeatherClient, store cache.Store, opts Options) *WeatherService {
	if store == nil {
		store = cache.NewDisabledStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var coalescer *requestCoalescer
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &WeatherService{
		client:          weatherClient,
		store:           store,
		logger:          logger,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// Store returns the backing store.
func (s *WeatherService) Store() cache.Store {
	return s.store
}

// loggerFromContext returns the request-scoped logger if present, else the service logger.
func (s *WeatherService) loggerFromContext(ctx context.Context) *zap.Logger {
	return observability.LoggerFromContext(ctx, s.logger)
}

// ResolveLocationKey returns the provider location key for (lat, lon).
// ok is false when the provider returned no data or a payload without a key.
// Any non-empty provider payload is persisted, keyless or not; keyless records read back as misses.
func (s *WeatherService) ResolveLocationKey(ctx context.Context, lat, lon float64) (string, bool, error) {
	logger := s.loggerFromContext(ctx).With(zap.Float64("lat", lat), zap.Float64("long", lon))
	coords := client.FormatCoordinate(lat) + "," + client.FormatCoordinate(lon)

	findStart := time.Now()
	cached, found, err := s.store.FindLocation(ctx, lat, lon)
	s.observeFind(logger, findStart, err)
	if err == nil && found {
		if key := cached.LocationKey(); key != "" {
			observability.CacheHitsTotal.WithLabelValues(observability.RecordLocation).Inc()
			logger.Debug("location cache hit", zap.String("location_key", key))
			return key, true, nil
		}
		logger.Warn("cached location has no key, treating as miss")
	}
	observability.CacheMissesTotal.WithLabelValues(observability.RecordLocation).Inc()

	payload, err := s.fetchRemote(ctx, "location:"+coords, observability.RecordLocation, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.ResolveLocationKey(ctx, lat, lon)
	})
	if err != nil {
		return "", false, fmt.Errorf("resolve location key for %s: %w", coords, err)
	}
	if models.IsEmptyPayload(payload) {
		logger.Debug("provider returned no location")
		return "", false, nil
	}

	loc := models.NewCachedLocation(lat, lon, payload)
	insertStart := time.Now()
	err = s.store.InsertLocation(ctx, loc)
	s.observeInsert(logger, insertStart, err)

	key := loc.LocationKey()
	if key == "" {
		logger.Debug("provider location has no key")
		return "", false, nil
	}
	logger.Debug("location resolved from provider", zap.String("location_key", key))
	return key, true, nil
}

// GetDailyForecast returns the daily forecast payload for (lat, lon).
// ok is false when no location key or no forecast data could be resolved.
func (s *WeatherService) GetDailyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error) {
	return s.getForecast(ctx, lat, lon, models.ForecastDaily)
}

// GetHourlyForecast returns the hourly forecast payload for (lat, lon).
// ok is false when no location key or no forecast data could be resolved.
func (s *WeatherService) GetHourlyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error) {
	return s.getForecast(ctx, lat, lon, models.ForecastHourly)
}

func (s *WeatherService) getForecast(ctx context.Context, lat, lon float64, forecastType models.ForecastType) (json.RawMessage, bool, error) {
	start := time.Now()
	label := strings.ToLower(string(forecastType))

	key, ok, err := s.ResolveLocationKey(ctx, lat, lon)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		observability.RecordForecastQuery(string(forecastType), false)
		return nil, false, nil
	}

	logger := s.loggerFromContext(ctx).With(zap.String("location_key", key), zap.String("type", string(forecastType)))

	findStart := time.Now()
	cached, found, err := s.store.FindForecast(ctx, key, forecastType)
	s.observeFind(logger, findStart, err)
	if err == nil && found {
		if !models.IsEmptyPayload(cached.Response) {
			observability.CacheHitsTotal.WithLabelValues(label).Inc()
			observability.RecordForecastQuery(string(forecastType), true)
			logger.Debug("forecast served", zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
			return cached.Response, true, nil
		}
		logger.Warn("cached forecast is empty, treating as miss")
	}
	observability.CacheMissesTotal.WithLabelValues(label).Inc()

	payload, err := s.fetchRemote(ctx, "forecast:"+key+":"+string(forecastType), label, func(ctx context.Context) (json.RawMessage, error) {
		if forecastType == models.ForecastHourly {
			return s.client.FetchHourlyForecast(ctx, key)
		}
		return s.client.FetchDailyForecast(ctx, key)
	})
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s forecast for %s: %w", label, key, err)
	}
	if models.IsEmptyPayload(payload) {
		observability.RecordForecastQuery(string(forecastType), false)
		logger.Debug("provider returned no forecast")
		return nil, false, nil
	}

	insertStart := time.Now()
	err = s.store.InsertForecast(ctx, models.NewCachedForecast(key, forecastType, payload))
	s.observeInsert(logger, insertStart, err)

	observability.RecordForecastQuery(string(forecastType), true)
	logger.Debug("forecast served", zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return payload, true, nil
}

// fetchRemote performs a provider call for a cache miss, tracking concurrent misses
// on the same key and sharing the call when coalescing is enabled.
func (s *WeatherService) fetchRemote(ctx context.Context, key, record string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	_, release := s.stampedeTracker.begin(key, record)
	defer release()

	if s.coalescer == nil {
		return fn(ctx)
	}
	waitStart := time.Now()
	payload, shared, err := s.coalescer.GetOrDo(ctx, key, fn)
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(record).Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	return payload, err
}

// observeFind records a store read. Read errors are logged and then treated as a miss.
func (s *WeatherService) observeFind(logger *zap.Logger, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("find", cache.CategorizeError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("find", "error").Observe(duration)
		logger.Warn("store find failed, treating as miss", zap.String("backend", s.store.Name()), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("find", "success").Observe(duration)
}

// observeInsert records a store write. Write errors are logged; the fetched payload is still served.
func (s *WeatherService) observeInsert(logger *zap.Logger, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("insert", cache.CategorizeError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("insert", "error").Observe(duration)
		logger.Warn("store insert failed", zap.String("backend", s.store.Name()), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("insert", "success").Observe(duration)
}
