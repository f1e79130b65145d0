package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

const testAPIKey = "test-api-key-12345"

func newTestClient(t *testing.T, baseURL string, mutate func(*Options)) *AccuWeatherClient {
	t.Helper()
	opts := Options{
		APIKey:         testAPIKey,
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		Details:        true,
		Metric:         true,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewAccuWeatherClient(opts)
	if err != nil {
		t.Fatalf("NewAccuWeatherClient() error = %v", err)
	}
	return c
}

func TestNewAccuWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{"empty API key", "", ErrInvalidAPIKey},
		{"too short API key", "short", ErrInvalidAPIKey},
		{"valid API key", testAPIKey, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewAccuWeatherClient(Options{APIKey: tt.apiKey})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewAccuWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if c != nil {
					t.Errorf("NewAccuWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAccuWeatherClient() unexpected error: %v", err)
			}
			if c.baseURL != DefaultBaseURL || c.retryAttempts != 1 || c.timeout != 10*time.Second {
				t.Errorf("defaults = (%q, %d, %v), want (%q, 1, 10s)", c.baseURL, c.retryAttempts, c.timeout, DefaultBaseURL)
			}
		})
	}
}

func TestAccuWeatherClient_ResolveLocationKey_Request(t *testing.T) {
	payload := `{"Key":"204848","LocalizedName":"Pune"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/locations/v1/cities/geoposition/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"apikey":   testAPIKey,
			"q":        "18.52,73.85",
			"language": "en-us",
			"details":  "false",
			"toplevel": "false",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	ctx := observability.WithCorrelationID(context.Background(), nil, "corr-1")
	got, err := c.ResolveLocationKey(ctx, 18.52, 73.85)
	if err != nil {
		t.Fatalf("ResolveLocationKey() error = %v", err)
	}
	if string(got) != payload {
		t.Errorf("ResolveLocationKey() = %s, want %s", got, payload)
	}
}

func TestAccuWeatherClient_Forecasts_Request(t *testing.T) {
	tests := []struct {
		name     string
		call     func(c *AccuWeatherClient) (json.RawMessage, error)
		wantPath string
		body     string
	}{
		{
			name:     "daily",
			call:     func(c *AccuWeatherClient) (json.RawMessage, error) { return c.FetchDailyForecast(context.Background(), "204848") },
			wantPath: "/forecasts/v1/daily/5day/204848",
			body:     `{"Headline":{},"DailyForecasts":[{"Date":"2026-01-01"}]}`,
		},
		{
			name:     "hourly",
			call:     func(c *AccuWeatherClient) (json.RawMessage, error) { return c.FetchHourlyForecast(context.Background(), "204848") },
			wantPath: "/forecasts/v1/hourly/12hour/204848",
			body:     `[{"DateTime":"2026-01-01T10:00:00+05:30"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path = %s, want %s", r.URL.Path, tt.wantPath)
				}
				q := r.URL.Query()
				if q.Get("details") != "true" || q.Get("metric") != "true" || q.Get("language") != "en-us" || q.Get("apikey") != testAPIKey {
					t.Errorf("unexpected query %s", r.URL.RawQuery)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := tt.call(newTestClient(t, server.URL, nil))
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if string(got) != tt.body {
				t.Errorf("payload = %s, want %s", got, tt.body)
			}
		})
	}
}

func TestAccuWeatherClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErrs   []error
		wantNilErr bool
		wantEmpty  bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErrs: []error{ErrRemoteUnavailable, ErrInvalidAPIKey}},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErrs: []error{ErrRemoteUnavailable, ErrRateLimited}},
		{name: "server error", status: http.StatusServiceUnavailable, wantErrs: []error{ErrRemoteUnavailable, ErrUpstreamFailure}},
		{name: "bad request", status: http.StatusBadRequest, wantErrs: []error{ErrRemoteUnavailable, ErrUpstreamFailure}},
		{name: "malformed body", status: http.StatusOK, body: `{"Key":`, wantErrs: []error{ErrRemoteMalformedResponse}},
		{name: "empty body", status: http.StatusOK, body: "", wantNilErr: true, wantEmpty: true},
		{name: "null body", status: http.StatusOK, body: "null", wantNilErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := newTestClient(t, server.URL, nil).ResolveLocationKey(context.Background(), 1, 2)
			if tt.wantNilErr {
				if err != nil {
					t.Fatalf("error = %v, want nil", err)
				}
				if tt.wantEmpty && got != nil {
					t.Errorf("payload = %s, want nil", got)
				}
				return
			}
			for _, want := range tt.wantErrs {
				if !errors.Is(err, want) {
					t.Errorf("error = %v, want errors.Is %v", err, want)
				}
			}
			if got != nil {
				t.Errorf("payload = %s, want nil on error", got)
			}
		})
	}
}

func TestAccuWeatherClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	_, err := c.FetchDailyForecast(context.Background(), "1")
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("error = %v, want ErrRemoteUnavailable", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", CategorizeError(err))
	}
}

func TestAccuWeatherClient_NoRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, nil).FetchHourlyForecast(context.Background(), "1")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("error = %v, want ErrUpstreamFailure", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestAccuWeatherClient_RetryRecovers(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"Key":"1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(o *Options) { o.RetryAttempts = 3 })
	got, err := c.ResolveLocationKey(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if string(got) != `{"Key":"1"}` {
		t.Errorf("payload = %s", got)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("provider calls = %d, want 3", n)
	}
}

func TestAccuWeatherClient_RetryDoesNotRetryInvalidKey(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(o *Options) { o.RetryAttempts = 3 })
	if _, err := c.ResolveLocationKey(context.Background(), 1, 2); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("error = %v, want ErrInvalidAPIKey", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestAccuWeatherClient_BreakerOpenSkipsProvider(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour})
	c := newTestClient(t, server.URL, func(o *Options) { o.Breaker = breaker })
	for i := 0; i < 2; i++ {
		_, _ = c.FetchDailyForecast(context.Background(), "1")
	}
	_, err := c.FetchDailyForecast(context.Background(), "1")
	if !errors.Is(err, ErrRemoteUnavailable) || !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("error = %v, want ErrRemoteUnavailable wrapping ErrOpen", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
}

func TestAccuWeatherClient_ValidateAPIKey(t *testing.T) {
	var calls int32
	status := http.StatusUnauthorized
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/locations/v1/regions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(o *Options) { o.ValidateCacheTTL = time.Hour })
	if err := c.ValidateAPIKey(context.Background()); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
	}
	status = http.StatusOK
	if err := c.ValidateAPIKey(context.Background()); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("ValidateAPIKey() within TTL = %v, want cached ErrInvalidAPIKey", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestFormatCoordinate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{18.52, "18.52"},
		{-73.85, "-73.85"},
		{0, "0"},
		{45, "45"},
	}
	for _, tt := range tests {
		if got := FormatCoordinate(tt.in); got != tt.want {
			t.Errorf("FormatCoordinate(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
