package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

// ErrCorruptDocument is returned when a stored document cannot be decoded.
// Callers treat it like any other read failure: as a miss.
var ErrCorruptDocument = errors.New("corrupt cached document")

// Store persists resolved locations and forecasts. Records are append-only:
// there is no update, delete or expiry, and inserts do not check for duplicates.
// Find operations return the first matching record in insertion order.
type Store interface {
	FindLocation(ctx context.Context, lat, lon float64) (models.CachedLocation, bool, error)
	FindForecast(ctx context.Context, locationKey string, forecastType models.ForecastType) (models.CachedForecast, bool, error)
	InsertLocation(ctx context.Context, loc models.CachedLocation) error
	InsertForecast(ctx context.Context, f models.CachedForecast) error
	// Name is the backend label used in logs and metrics.
	Name() string
}

// Pinger is implemented by stores with a remote connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by stores holding connections that must be released on shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendDisabled  = "disabled"
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendPostgres  = "postgres"
	BackendMongo     = "mongo"
)

// DisabledStore is used when no store is configured: every find misses and every insert is dropped.
type DisabledStore struct{}

// NewDisabledStore returns a DisabledStore.
func NewDisabledStore() *DisabledStore {
	return &DisabledStore{}
}

func (DisabledStore) FindLocation(ctx context.Context, lat, lon float64) (models.CachedLocation, bool, error) {
	return models.CachedLocation{}, false, nil
}

func (DisabledStore) FindForecast(ctx context.Context, locationKey string, forecastType models.ForecastType) (models.CachedForecast, bool, error) {
	return models.CachedForecast{}, false, nil
}

func (DisabledStore) InsertLocation(ctx context.Context, loc models.CachedLocation) error {
	return nil
}

func (DisabledStore) InsertForecast(ctx context.Context, f models.CachedForecast) error {
	return nil
}

func (DisabledStore) Name() string { return BackendDisabled }

// InMemoryStore keeps records in append-only slices. Safe for concurrent use.
type InMemoryStore struct {
	mu        sync.RWMutex
	locations []models.CachedLocation
	forecasts []models.CachedForecast
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// FindLocation returns the first location stored with exactly these coordinates.
func (s *InMemoryStore) FindLocation(ctx context.Context, lat, lon float64) (models.CachedLocation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedLocation{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loc := range s.locations {
		if loc.Latitude == lat && loc.Longitude == lon {
			return loc, true, nil
		}
	}
	return models.CachedLocation{}, false, nil
}

// FindForecast returns the first forecast stored for (locationKey, forecastType).
func (s *InMemoryStore) FindForecast(ctx context.Context, locationKey string, forecastType models.ForecastType) (models.CachedForecast, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedForecast{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.forecasts {
		if f.LocationKey == locationKey && f.Type == forecastType {
			return f, true, nil
		}
	}
	return models.CachedForecast{}, false, nil
}

// InsertLocation appends loc.
func (s *InMemoryStore) InsertLocation(ctx context.Context, loc models.CachedLocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, loc)
	return nil
}

// InsertForecast appends f.
func (s *InMemoryStore) InsertForecast(ctx context.Context, f models.CachedForecast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts = append(s.forecasts, f)
	return nil
}

func (s *InMemoryStore) Name() string { return BackendInMemory }

// Counts returns the number of stored locations and forecasts, duplicates included.
func (s *InMemoryStore) Counts() (locations, forecasts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations), len(s.forecasts)
}
