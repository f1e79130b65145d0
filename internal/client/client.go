package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
)

// WeatherClient issues the three remote lookups the resolver needs. Payloads are
// returned verbatim; an empty body is returned as an empty payload, not an error.
type WeatherClient interface {
	ResolveLocationKey(ctx context.Context, lat, lon float64) (json.RawMessage, error)
	FetchDailyForecast(ctx context.Context, locationKey string) (json.RawMessage, error)
	FetchHourlyForecast(ctx context.Context, locationKey string) (json.RawMessage, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	// ErrRemoteUnavailable covers transport failures, timeouts and non-2xx responses.
	ErrRemoteUnavailable = errors.New("remote weather service unavailable")
	// ErrRemoteMalformedResponse is returned when a response body is not valid JSON.
	ErrRemoteMalformedResponse = errors.New("remote weather service returned malformed response")

	// Classification of ErrRemoteUnavailable; always wrapped together with it.
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
)

// DefaultBaseURL is the AccuWeather data service root.
const DefaultBaseURL = "http://dataservice.accuweather.com"

// Endpoint labels used on weather API metrics.
const (
	EndpointGeoposition = "geoposition"
	EndpointDaily       = "daily"
	EndpointHourly      = "hourly"
	EndpointValidate    = "validate"
)

const (
	geopositionPath = "/locations/v1/cities/geoposition/search"
	dailyPath       = "/forecasts/v1/daily/5day/"
	hourlyPath      = "/forecasts/v1/hourly/12hour/"
	validatePath    = "/locations/v1/regions"
)

// Options configures an AccuWeatherClient. Zero values take the defaults noted per field.
type Options struct {
	APIKey  string
	BaseURL string        // DefaultBaseURL
	Timeout time.Duration // 10s

	Language string // en-us
	Details  bool
	Metric   bool

	// RetryAttempts is the total number of attempts per call; 1 disables retry.
	RetryAttempts  int
	RetryBaseDelay time.Duration // 100ms
	RetryMaxDelay  time.Duration // 2s

	// ValidateCacheTTL bounds how often ValidateAPIKey hits the provider (1m).
	ValidateCacheTTL time.Duration

	// Breaker, when set, guards every provider call.
	Breaker *circuitbreaker.CircuitBreaker

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// AccuWeatherClient implements WeatherClient against the AccuWeather REST API.
type AccuWeatherClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	language       string
	details        bool
	metric         bool
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	client         *http.Client

	validateTTL    time.Duration
	validateMu     sync.Mutex
	validatedAt    time.Time
	validateResult error
}

// NewAccuWeatherClient returns a client or an error wrapping ErrInvalidAPIKey when the key is unusable.
func NewAccuWeatherClient(opts Options) (*AccuWeatherClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(opts.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Language == "" {
		opts.Language = "en-us"
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.ValidateCacheTTL <= 0 {
		opts.ValidateCacheTTL = time.Minute
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &AccuWeatherClient{
		apiKey:         opts.APIKey,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		timeout:        opts.Timeout,
		language:       opts.Language,
		details:        opts.Details,
		metric:         opts.Metric,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
		client:         httpClient,
		validateTTL:    opts.ValidateCacheTTL,
	}, nil
}

// ResolveLocationKey looks up the provider location document for a coordinate pair.
func (c *AccuWeatherClient) ResolveLocationKey(ctx context.Context, lat, lon float64) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", FormatCoordinate(lat)+","+FormatCoordinate(lon))
	params.Set("language", c.language)
	params.Set("details", "false")
	params.Set("toplevel", "false")
	return c.get(ctx, EndpointGeoposition, geopositionPath, params)
}

// FetchDailyForecast returns the 5-day daily forecast for a location key.
func (c *AccuWeatherClient) FetchDailyForecast(ctx context.Context, locationKey string) (json.RawMessage, error) {
	return c.get(ctx, EndpointDaily, dailyPath+url.PathEscape(locationKey), c.forecastParams())
}

// FetchHourlyForecast returns the 12-hour hourly forecast for a location key.
func (c *AccuWeatherClient) FetchHourlyForecast(ctx context.Context, locationKey string) (json.RawMessage, error) {
	return c.get(ctx, EndpointHourly, hourlyPath+url.PathEscape(locationKey), c.forecastParams())
}

func (c *AccuWeatherClient) forecastParams() url.Values {
	params := url.Values{}
	params.Set("language", c.language)
	params.Set("details", strconv.FormatBool(c.details))
	params.Set("metric", strconv.FormatBool(c.metric))
	return params
}

// FormatCoordinate renders a coordinate in its shortest exact decimal form.
func FormatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *AccuWeatherClient) get(ctx context.Context, endpoint, path string, params url.Values) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, err := c.callWithBreaker(ctx, endpoint, path, params)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			break
		}
	}

	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	if c.retryAttempts > 1 && c.isRetryable(ctx, lastErr) {
		return nil, fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return nil, lastErr
}

func (c *AccuWeatherClient) callWithBreaker(ctx context.Context, endpoint, path string, params url.Values) (json.RawMessage, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, path, params)
	}
	var body json.RawMessage
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		body, callErr = c.callAPI(ctx, endpoint, path, params)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return body, err
}

func (c *AccuWeatherClient) callAPI(ctx context.Context, endpoint, path string, params url.Values) (json.RawMessage, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())

		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: request timeout: %w", ErrRemoteUnavailable, err)
		}
		return nil, fmt.Errorf("%w: http request failed: %w", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", ErrRemoteUnavailable, err)
	}
	return decodePayload(body)
}

// decodePayload returns the trimmed body, nil for an empty body, or
// ErrRemoteMalformedResponse when the body is not JSON.
func decodePayload(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: parse response: invalid JSON", ErrRemoteMalformedResponse)
	}
	return json.RawMessage(body), nil
}

func (c *AccuWeatherClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// isRetryable reports whether err is transient. Nothing is retryable once the
// caller's context is done.
func (c *AccuWeatherClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrRemoteMalformedResponse) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout")
}

func (c *AccuWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %w: HTTP %d", ErrRemoteUnavailable, ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey probes the provider with the configured key. The result is
// reused for ValidateCacheTTL so health checks do not drain the request quota.
func (c *AccuWeatherClient) ValidateAPIKey(ctx context.Context) error {
	c.validateMu.Lock()
	defer c.validateMu.Unlock()
	if !c.validatedAt.IsZero() && time.Since(c.validatedAt) < c.validateTTL {
		return c.validateResult
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("language", c.language)
	_, err := c.callAPI(ctx, EndpointValidate, validatePath, params)
	if err != nil {
		err = fmt.Errorf("validate API key: %w", err)
	}
	if ctx.Err() == nil || err == nil {
		c.validatedAt = time.Now()
		c.validateResult = err
	}
	return err
}
