package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-cache-service/internal/cache"
	"github.com/kjstillabower/forecast-cache-service/internal/client"
	"github.com/kjstillabower/forecast-cache-service/internal/health"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
	"github.com/kjstillabower/forecast-cache-service/internal/validation"
)

// ForecastService is the subset of service.WeatherService used by the handlers.
type ForecastService interface {
	GetDailyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)
	GetHourlyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)
}

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	Thresholds health.Config
	// StorePinger, when set, is called to check store reachability.
	StorePinger cache.Pinger
	// StoreBackend is reported in the health response.
	StoreBackend string
	Version      string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts        ForecastService
	client           client.WeatherClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	forecasts ForecastService,
	client client.WeatherClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		forecasts:    forecasts,
		client:       client,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetDailyForecast handles GET /weather/daily?lat=&long=.
// The payload is written exactly as stored or fetched.
func (h *Handler) GetDailyForecast(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.resolveForecast(w, r, h.forecasts.GetDailyForecast)
	if !ok {
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetHourlyForecast handles GET /weather/hourly?lat=&long=.
// The payload is wrapped as {"HourlyForecasts": payload}.
func (h *Handler) GetHourlyForecast(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.resolveForecast(w, r, h.forecasts.GetHourlyForecast)
	if !ok {
		return
	}
	body := make([]byte, 0, len(payload)+len(`{"HourlyForecasts":}`))
	body = append(body, `{"HourlyForecasts":`...)
	body = append(body, payload...)
	body = append(body, '}')
	writeRawJSON(w, http.StatusOK, body)
}

type forecastFunc func(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)

// resolveForecast validates coordinates and runs fn. It writes the response itself for every
// outcome except a found payload, which it returns with ok=true.
func (h *Handler) resolveForecast(w http.ResponseWriter, r *http.Request, fn forecastFunc) (json.RawMessage, bool) {
	q := r.URL.Query()
	coord, err := validation.ParseCoordinates(q.Get("lat"), q.Get("long"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return nil, false
	}

	payload, found, err := fn(r.Context(), coord.Latitude, coord.Longitude)
	if err != nil {
		health.RecordError()
		writeServiceError(w, r, err)
		return nil, false
	}
	health.RecordSuccess()
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return nil, false
	}
	return payload, true
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	providerErr := h.client.ValidateAPIKey(r.Context())
	result := health.Evaluate(h.healthConfig.Thresholds, providerErr)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if providerErr != nil {
		checks["weatherApi"] = "unhealthy"
		h.logger.Debug("weather api check failed", zap.Error(providerErr))
	}
	if h.healthConfig.StorePinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.healthConfig.StorePinger.Ping(ctx)
		cancel()
		if err != nil {
			checks["store"] = "unhealthy"
			h.logger.Warn("store ping failed", zap.String("backend", h.healthConfig.StoreBackend), zap.Error(err))
		} else {
			checks["store"] = "healthy"
		}
	}

	version := h.healthConfig.Version
	if version == "" {
		version = "dev"
	}
	resp := map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig.StoreBackend != "" {
		resp["store"] = h.healthConfig.StoreBackend
	}
	statusCode := http.StatusOK
	if !result.Serving() {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes already-encoded JSON without re-encoding it.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := observability.CorrelationID(r.Context())
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps resolver errors to responses: provider failures become
// 503 UPSTREAM_UNAVAILABLE, anything else 500 INTERNAL.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), nil)
	switch {
	case errors.Is(err, client.ErrRemoteUnavailable),
		errors.Is(err, client.ErrRemoteMalformedResponse),
		errors.Is(err, context.DeadlineExceeded):
		logger.Warn("upstream error", zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	default:
		logger.Error("forecast request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}
