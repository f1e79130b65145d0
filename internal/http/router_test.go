package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestNewRouter_Routes(t *testing.T) {
	handler, _, _ := newPuneHandler(t)
	router := NewRouter(handler, RouterConfig{Limiter: rate.NewLimiter(100, 100)}, zap.NewNop())

	tests := []struct {
		method, path string
		wantStatus   int
	}{
		{"GET", "/weather/daily?lat=18.52&long=73.85", http.StatusOK},
		{"GET", "/weather/hourly?lat=18.52&long=73.85", http.StatusOK},
		{"GET", "/weather/daily", http.StatusBadRequest},
		{"GET", "/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"POST", "/weather/daily?lat=1&long=1", http.StatusMethodNotAllowed},
		{"GET", "/weather/weekly", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestNewRouter_MetricsExposeForecastCounters(t *testing.T) {
	handler, _, _ := newPuneHandler(t)
	router := NewRouter(handler, RouterConfig{}, zap.NewNop())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/daily?lat=18.52&long=73.85", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "cacheMissesTotal"} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}
