package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

type mockForecastFetcher struct {
	mu     sync.Mutex
	daily  []models.Coordinate
	hourly int32
	err    error
}

func (m *mockForecastFetcher) GetDailyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error) {
	m.mu.Lock()
	m.daily = append(m.daily, models.Coordinate{Latitude: lat, Longitude: lon})
	m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	return json.RawMessage(`{"DailyForecasts":[]}`), true, nil
}

func (m *mockForecastFetcher) GetHourlyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error) {
	atomic.AddInt32(&m.hourly, 1)
	return json.RawMessage(`[]`), true, nil
}

func (m *mockForecastFetcher) dailyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.daily)
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockForecastFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, time.Second)

	coords := []models.Coordinate{{Latitude: 18.52, Longitude: 73.85}, {Latitude: 47.6, Longitude: -122.3}}
	if err := warmer.Warm(context.Background(), coords); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if fetcher.dailyCalls() != 2 || atomic.LoadInt32(&fetcher.hourly) != 2 {
		t.Errorf("calls = (daily %d, hourly %d), want (2, 2)", fetcher.dailyCalls(), fetcher.hourly)
	}
}

func TestCacheWarmer_Warm_EmptyLocations(t *testing.T) {
	warmer := NewCacheWarmer(&mockForecastFetcher{}, nil, 0)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil locations error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	errDown := errors.New("api down")
	fetcher := &mockForecastFetcher{err: errDown}
	warmer := NewCacheWarmer(fetcher, nil, time.Second)

	err := warmer.Warm(context.Background(), []models.Coordinate{{Latitude: 1, Longitude: 2}})
	if !errors.Is(err, errDown) {
		t.Fatalf("Warm() error = %v, want wrapped fetcher error", err)
	}
	if !strings.Contains(err.Error(), "warm daily 1,2") {
		t.Errorf("Warm() error = %q, want coordinate in message", err)
	}
	if n := atomic.LoadInt32(&fetcher.hourly); n != 0 {
		t.Errorf("hourly calls = %d, want 0 after daily failure", n)
	}
}

func TestCacheWarmer_StartRunsImmediately(t *testing.T) {
	fetcher := &mockForecastFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, time.Second)
	if err := warmer.Start([]models.Coordinate{{Latitude: 1, Longitude: 2}}, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer warmer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.dailyCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fetcher.dailyCalls() == 0 {
		t.Error("Start() did not run an initial warm")
	}
}

func TestCacheWarmer_StartValidation(t *testing.T) {
	warmer := NewCacheWarmer(&mockForecastFetcher{}, nil, 0)
	if err := warmer.Start(nil, 0); err != nil {
		t.Errorf("Start() with no locations error = %v, want nil", err)
	}
	if err := warmer.Start([]models.Coordinate{{}}, 0); err == nil {
		t.Error("Start() with zero interval error = nil, want error")
	}
	warmer.Stop()
}
