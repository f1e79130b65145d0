//go:build integration

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
	"github.com/kjstillabower/forecast-cache-service/internal/testhelpers"
)

// TestMemcachedStore_FirstWriteWins_Integration verifies that a second insert for the same
// coordinates does not replace the first document.
func TestMemcachedStore_FirstWriteWins_Integration(t *testing.T) {
	s, err := NewMemcachedStore(testhelpers.MemcachedAddrs(), 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedStore() error = %v", err)
	}
	defer s.Close(context.Background())

	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	// Unique coordinates so reruns against a live server start from a miss.
	lat := float64(time.Now().UnixNano()%1_000_000) / 10_000
	first := models.NewCachedLocation(lat, 1.5, json.RawMessage(`{"Key":"first"}`))
	second := models.NewCachedLocation(lat, 1.5, json.RawMessage(`{"Key":"second"}`))
	if err := s.InsertLocation(ctx, first); err != nil {
		t.Fatalf("InsertLocation() error = %v", err)
	}
	if err := s.InsertLocation(ctx, second); err != nil {
		t.Fatalf("InsertLocation() duplicate error = %v", err)
	}
	got, ok, err := s.FindLocation(ctx, lat, 1.5)
	if err != nil || !ok {
		t.Fatalf("FindLocation() = (ok=%v, err=%v), want hit", ok, err)
	}
	if got.LocationKey() != "first" {
		t.Errorf("LocationKey() = %q, want first", got.LocationKey())
	}

	key := fmt.Sprintf("it-%d", time.Now().UnixNano())
	f := models.NewCachedForecast(key, models.ForecastHourly, json.RawMessage(`[{"Hour":1}]`))
	if err := s.InsertForecast(ctx, f); err != nil {
		t.Fatalf("InsertForecast() error = %v", err)
	}
	gotF, ok, err := s.FindForecast(ctx, key, models.ForecastHourly)
	if err != nil || !ok || string(gotF.Response) != `[{"Hour":1}]` {
		t.Errorf("FindForecast() = (%s, %v, %v)", gotF.Response, ok, err)
	}
	if _, ok, _ := s.FindForecast(ctx, key, models.ForecastDaily); ok {
		t.Error("FindForecast(DAILY) hit, want miss")
	}
}
