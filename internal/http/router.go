package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// RouterConfig holds the middleware settings applied to the forecast routes.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter, when nil, disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter registers /health, /metrics and the forecast routes on a gorilla/mux router.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(cfg.Limiter))
	weatherRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("/daily", h.GetDailyForecast).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/hourly", h.GetHourlyForecast).Methods(http.MethodGet)
	return router
}
