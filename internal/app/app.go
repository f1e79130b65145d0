// Package app builds the provider client, store and resolver from configuration.
// It is shared by the HTTP service and the operator CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-cache-service/internal/cache"
	"github.com/kjstillabower/forecast-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-cache-service/internal/client"
	"github.com/kjstillabower/forecast-cache-service/internal/config"
	"github.com/kjstillabower/forecast-cache-service/internal/db"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
	"github.com/kjstillabower/forecast-cache-service/internal/service"
)

const breakerComponent = "weather_api"

// NewWeatherClient builds the AccuWeather client, with a circuit breaker when enabled.
func NewWeatherClient(cfg *config.Config, logger *zap.Logger) (*client.AccuWeatherClient, error) {
	opts := client.Options{
		APIKey:         cfg.WeatherAPIKey,
		BaseURL:        cfg.WeatherAPIURL,
		Timeout:        cfg.WeatherAPITimeout,
		Language:       cfg.Language,
		Details:        cfg.Details,
		Metric:         cfg.Metric,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}
	if cfg.CircuitBreakerEnabled {
		opts.Breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        breakerComponent,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String())
				observability.SetCircuitBreakerStateGauge(breakerComponent, observability.CircuitBreakerStateValue(int(to)))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		observability.SetCircuitBreakerStateGauge(breakerComponent, observability.CircuitBreakerStateValue(int(circuitbreaker.StateClosed)))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	weatherClient, err := client.NewAccuWeatherClient(opts)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	return weatherClient, nil
}

// StoreOptions maps configuration onto cache.Options.
func StoreOptions(cfg *config.Config) cache.Options {
	opts := cache.Options{
		Backend:               cfg.StoreBackend,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
		MongoURI:              cfg.MongoURI,
		MongoDatabase:         cfg.MongoDatabase,
		MongoTimeout:          cfg.MongoTimeout,
	}
	if cfg.PostgresDSN != "" {
		pg := db.DefaultConfig()
		pg.DSN = cfg.PostgresDSN
		pg.MaxConns = cfg.PostgresMaxConns
		pg.MigrationsPath = cfg.PostgresMigrationsPath
		pg.SkipMigrations = cfg.PostgresSkipMigrations
		opts.Postgres = pg
	}
	return opts
}

// Components are the wired core objects.
type Components struct {
	Client  *client.AccuWeatherClient
	Store   cache.Store
	Service *service.WeatherService
}

// Build wires client, store and resolver. Close releases the store connection.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	weatherClient, err := NewWeatherClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(ctx, StoreOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("forecast store: %w", err)
	}
	logger.Info("forecast store ready", zap.String("backend", store.Name()))

	svc := service.NewWeatherService(weatherClient, store, service.Options{
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
	})
	return &Components{Client: weatherClient, Store: store, Service: svc}, nil
}

// Close releases the store connection, if it holds one.
func (c *Components) Close(ctx context.Context) error {
	if closer, ok := c.Store.(cache.Closer); ok {
		return closer.Close(ctx)
	}
	return nil
}
