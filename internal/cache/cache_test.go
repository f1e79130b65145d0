package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

// runStoreContract exercises the behaviour every persistent Store must provide.
// Shared by the in-memory test and the backend integration tests.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("location miss", func(t *testing.T) {
		_, ok, err := s.FindLocation(ctx, -89.5, 179.25)
		if err != nil || ok {
			t.Fatalf("FindLocation() = (ok=%v, err=%v), want miss", ok, err)
		}
	})

	t.Run("location first match wins", func(t *testing.T) {
		first := models.NewCachedLocation(18.52, 73.85, json.RawMessage(`{"Key":"204848","LocalizedName":"Pune"}`))
		second := models.NewCachedLocation(18.52, 73.85, json.RawMessage(`{"Key":"999"}`))
		if err := s.InsertLocation(ctx, first); err != nil {
			t.Fatalf("InsertLocation() error = %v", err)
		}
		if err := s.InsertLocation(ctx, second); err != nil {
			t.Fatalf("InsertLocation() duplicate error = %v", err)
		}
		got, ok, err := s.FindLocation(ctx, 18.52, 73.85)
		if err != nil || !ok {
			t.Fatalf("FindLocation() = (ok=%v, err=%v), want hit", ok, err)
		}
		if got.LocationKey() != "204848" {
			t.Errorf("LocationKey() = %q, want 204848 (first inserted)", got.LocationKey())
		}
		if got.Latitude != 18.52 || got.Longitude != 73.85 {
			t.Errorf("coords = (%v, %v), want (18.52, 73.85)", got.Latitude, got.Longitude)
		}
	})

	t.Run("location exact match only", func(t *testing.T) {
		if _, ok, _ := s.FindLocation(ctx, 18.520001, 73.85); ok {
			t.Error("FindLocation() matched nearby coordinates, want exact match only")
		}
	})

	t.Run("forecast partitioned by type", func(t *testing.T) {
		daily := models.NewCachedForecast("204848", models.ForecastDaily, json.RawMessage(`{"DailyForecasts":[{"Day":1}]}`))
		if err := s.InsertForecast(ctx, daily); err != nil {
			t.Fatalf("InsertForecast() error = %v", err)
		}
		got, ok, err := s.FindForecast(ctx, "204848", models.ForecastDaily)
		if err != nil || !ok {
			t.Fatalf("FindForecast(DAILY) = (ok=%v, err=%v), want hit", ok, err)
		}
		if got.Type != models.ForecastDaily || got.LocationKey != "204848" {
			t.Errorf("FindForecast() = %+v", got)
		}
		var v map[string]interface{}
		if err := json.Unmarshal(got.Response, &v); err != nil || v["DailyForecasts"] == nil {
			t.Errorf("Response = %s, want stored daily payload", got.Response)
		}
		if _, ok, err := s.FindForecast(ctx, "204848", models.ForecastHourly); ok || err != nil {
			t.Errorf("FindForecast(HOURLY) = (ok=%v, err=%v), want miss", ok, err)
		}
	})

	t.Run("forecast array payload", func(t *testing.T) {
		hourly := models.NewCachedForecast("204848", models.ForecastHourly, json.RawMessage(`[{"Hour":1},{"Hour":2}]`))
		if err := s.InsertForecast(ctx, hourly); err != nil {
			t.Fatalf("InsertForecast() error = %v", err)
		}
		got, ok, err := s.FindForecast(ctx, "204848", models.ForecastHourly)
		if err != nil || !ok {
			t.Fatalf("FindForecast(HOURLY) = (ok=%v, err=%v), want hit", ok, err)
		}
		var v []map[string]interface{}
		if err := json.Unmarshal(got.Response, &v); err != nil || len(v) != 2 {
			t.Errorf("Response = %s, want two hourly entries", got.Response)
		}
	})
}

func TestInMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStore_KeepsDuplicates(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	loc := models.NewCachedLocation(1, 2, json.RawMessage(`{"Key":"1"}`))
	_ = s.InsertLocation(ctx, loc)
	_ = s.InsertLocation(ctx, loc)
	if n, _ := s.Counts(); n != 2 {
		t.Errorf("location count = %d, want 2 (duplicates are not rejected)", n)
	}
}

func TestInMemoryStore_ConcurrentInserts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.InsertForecast(ctx, models.NewCachedForecast("k", models.ForecastDaily, json.RawMessage(`[1]`)))
			_, _, _ = s.FindForecast(ctx, "k", models.ForecastDaily)
		}(i)
	}
	wg.Wait()
	if _, n := s.Counts(); n != 50 {
		t.Errorf("forecast count = %d, want 50", n)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.InsertLocation(ctx, models.CachedLocation{}); err == nil {
		t.Error("InsertLocation() with canceled context error = nil, want error")
	}
	if _, _, err := s.FindLocation(ctx, 0, 0); err == nil {
		t.Error("FindLocation() with canceled context error = nil, want error")
	}
}

func TestDisabledStore(t *testing.T) {
	s := NewDisabledStore()
	ctx := context.Background()
	if err := s.InsertLocation(ctx, models.NewCachedLocation(1, 2, json.RawMessage(`{"Key":"1"}`))); err != nil {
		t.Fatalf("InsertLocation() error = %v", err)
	}
	if err := s.InsertForecast(ctx, models.NewCachedForecast("1", models.ForecastDaily, json.RawMessage(`[1]`))); err != nil {
		t.Fatalf("InsertForecast() error = %v", err)
	}
	if _, ok, err := s.FindLocation(ctx, 1, 2); ok || err != nil {
		t.Errorf("FindLocation() = (ok=%v, err=%v), want miss without error", ok, err)
	}
	if _, ok, err := s.FindForecast(ctx, "1", models.ForecastDaily); ok || err != nil {
		t.Errorf("FindForecast() = (ok=%v, err=%v), want miss without error", ok, err)
	}
	if s.Name() != BackendDisabled {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestMemcachedKeys(t *testing.T) {
	if got := LocationKey(18.52, 73.85); got != "forecastcache:location:18.52,73.85" {
		t.Errorf("LocationKey() = %q", got)
	}
	if got := LocationKey(-0.5, 100); got != "forecastcache:location:-0.5,100" {
		t.Errorf("LocationKey() = %q", got)
	}
	if got := ForecastKey("204848", models.ForecastHourly); got != "forecastcache:forecast:204848:HOURLY" {
		t.Errorf("ForecastKey() = %q", got)
	}
}

func TestNewMemcachedStore_RequiresAddrs(t *testing.T) {
	if _, err := NewMemcachedStore(" , ", 0, 0); err == nil {
		t.Error("NewMemcachedStore() with no addresses error = nil, want error")
	}
}
