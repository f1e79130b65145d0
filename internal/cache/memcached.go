package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

const keyPrefix = "forecastcache:"

// MemcachedStore keeps one JSON document per key. Inserts use memcached add,
// so the first write for a key wins and later duplicates are dropped. No expiry is set.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LocationKey is the memcached key for a coordinate pair.
func LocationKey(lat, lon float64) string {
	return keyPrefix + "location:" + formatFloat(lat) + "," + formatFloat(lon)
}

// ForecastKey is the memcached key for a forecast record.
func ForecastKey(locationKey string, forecastType models.ForecastType) string {
	return keyPrefix + "forecast:" + locationKey + ":" + string(forecastType)
}

func (s *MemcachedStore) FindLocation(ctx context.Context, lat, lon float64) (models.CachedLocation, bool, error) {
	var loc models.CachedLocation
	ok, err := s.get(ctx, LocationKey(lat, lon), &loc)
	if err != nil || !ok {
		return models.CachedLocation{}, false, err
	}
	return loc, true, nil
}

func (s *MemcachedStore) FindForecast(ctx context.Context, locationKey string, forecastType models.ForecastType) (models.CachedForecast, bool, error) {
	var f models.CachedForecast
	ok, err := s.get(ctx, ForecastKey(locationKey, forecastType), &f)
	if err != nil || !ok {
		return models.CachedForecast{}, false, err
	}
	return f, true, nil
}

func (s *MemcachedStore) InsertLocation(ctx context.Context, loc models.CachedLocation) error {
	return s.add(ctx, LocationKey(loc.Latitude, loc.Longitude), loc)
}

func (s *MemcachedStore) InsertForecast(ctx context.Context, f models.CachedForecast) error {
	return s.add(ctx, ForecastKey(f.LocationKey, f.Type), f)
}

func (s *MemcachedStore) Name() string { return BackendMemcached }

// get returns false, nil on cache miss; false, err on error.
func (s *MemcachedStore) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	item, err := s.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	if err := json.Unmarshal(item.Value, dst); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorruptDocument, key, err)
	}
	return true, nil
}

func (s *MemcachedStore) add(ctx context.Context, key string, v interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = s.client.Add(&memcache.Item{Key: key, Value: raw})
	if errors.Is(err, memcache.ErrNotStored) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memcached add %s: %w", key, err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close(ctx context.Context) error {
	return s.client.Close()
}
