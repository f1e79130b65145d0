package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

// Store backends accepted in store.backend / STORE_BACKEND.
const (
	BackendDisabled  = "disabled"
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendPostgres  = "postgres"
	BackendMongo     = "mongo"
)

const defaultWeatherAPIURL = "http://dataservice.accuweather.com"

// Config holds service configuration loaded from .env, YAML and environment.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	Language          string
	Details           bool
	Metric            bool

	RequestTimeout time.Duration

	StoreBackend string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	PostgresDSN            string
	PostgresMaxConns       int32
	PostgresMigrationsPath string
	PostgresSkipMigrations bool

	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	WarmingEnabled     bool
	WarmingInterval    time.Duration
	WarmingTimeout     time.Duration
	TrackedCoordinates []models.Coordinate
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Language string `yaml:"language"`
		Details  *bool  `yaml:"details"`
		Metric   *bool  `yaml:"metric"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Store struct {
		Backend   string `yaml:"backend"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Postgres struct {
			DSN            string `yaml:"dsn"`
			MaxConns       int32  `yaml:"max_conns"`
			MigrationsPath string `yaml:"migrations_path"`
			SkipMigrations bool   `yaml:"skip_migrations"`
		} `yaml:"postgres"`
		Mongo MongoParts `yaml:"mongo"`
	} `yaml:"store"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalescing struct {
			Enabled bool   `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalescing"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Warming struct {
		Enabled     bool                `yaml:"enabled"`
		Interval    string              `yaml:"interval"`
		Timeout     string              `yaml:"timeout"`
		Coordinates []models.Coordinate `yaml:"coordinates"`
	} `yaml:"warming"`
}

// MongoParts holds the connection parts used when no full Mongo URI is configured.
type MongoParts struct {
	URI      string `yaml:"uri"`
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"pass"`
	Database string `yaml:"database"`
	SSL      bool   `yaml:"ssl"`
	CAFile   string `yaml:"ca_file"`
	Params   string `yaml:"params"`
	Timeout  string `yaml:"timeout"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoPass     string `yaml:"mongo_pass"`
}

// Load reads .env (optional), config/{ENV_NAME}.yaml (default dev), environment
// overrides and config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, defaultWeatherAPIURL)
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.Language = firstNonEmpty(fc.WeatherAPI.Language, "en-us")
	cfg.Details = true
	if fc.WeatherAPI.Details != nil {
		cfg.Details = *fc.WeatherAPI.Details
	}
	cfg.Metric = true
	if fc.WeatherAPI.Metric != nil {
		cfg.Metric = *fc.WeatherAPI.Metric
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.StoreBackend = strings.ToLower(firstNonEmpty(os.Getenv("STORE_BACKEND"), fc.Store.Backend, BackendInMemory))

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Store.Memcached.Addrs)
	cfg.MemcachedTimeout = parseDuration(fc.Store.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Store.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.PostgresDSN = firstNonEmpty(os.Getenv("POSTGRES_DSN"), sec.PostgresDSN, fc.Store.Postgres.DSN)
	cfg.PostgresMaxConns = fc.Store.Postgres.MaxConns
	if cfg.PostgresMaxConns <= 0 {
		cfg.PostgresMaxConns = 10
	}
	cfg.PostgresMigrationsPath = firstNonEmpty(fc.Store.Postgres.MigrationsPath, "migrations")
	cfg.PostgresSkipMigrations = fc.Store.Postgres.SkipMigrations

	mongo := fc.Store.Mongo
	mongo.Pass = firstNonEmpty(os.Getenv("MONGO_PASS"), sec.MongoPass, mongo.Pass)
	cfg.MongoURI = firstNonEmpty(os.Getenv("MONGO_DB_URI"), mongo.URI, BuildMongoURI(mongo))
	cfg.MongoDatabase = firstNonEmpty(os.Getenv("MONGO_DB_NAME"), mongo.Database, "weather")
	cfg.MongoTimeout = parseDuration(mongo.Timeout, 5*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Reliability.Coalescing.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalescing.Timeout, 5*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 30*time.Minute)
	cfg.WarmingTimeout = parseDuration(fc.Warming.Timeout, 30*time.Second)
	cfg.TrackedCoordinates = fc.Warming.Coordinates

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildMongoURI assembles a connection URI from its parts. Returns "" when no server is set.
func BuildMongoURI(m MongoParts) string {
	server := strings.TrimSpace(m.Server)
	if server == "" {
		return ""
	}
	port := m.Port
	if port <= 0 {
		port = 27017
	}
	host := server + ":" + strconv.Itoa(port)

	u := url.URL{Scheme: "mongodb", Host: host, Path: "/"}
	if m.User != "" {
		u.User = url.UserPassword(m.User, m.Pass)
	}
	params := []string{}
	if m.SSL {
		params = append(params, "ssl=true")
		if m.CAFile != "" {
			params = append(params, "tlsCAFile="+url.QueryEscape(m.CAFile))
		}
	} else {
		params = append(params, "ssl=false")
	}
	if extra := strings.TrimSpace(m.Params); extra != "" {
		params = append(params, strings.TrimPrefix(extra, "&"))
	}
	u.RawQuery = strings.Join(params, "&")
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above
// WeatherAPITimeout when needed so provider calls can finish inside a request.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.StoreBackend {
	case BackendDisabled, BackendInMemory, BackendMemcached, BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("store.backend must be one of disabled, in_memory, memcached, postgres, mongo; got %q", cfg.StoreBackend)
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("reliability.retry_max_delay (%s) must not be below retry_base_delay (%s)", cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}
	if cfg.OverloadThresholdPct > 100 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle percentages must be at most 100")
	}
	for i, c := range cfg.TrackedCoordinates {
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return fmt.Errorf("warming.coordinates[%d] out of range: %v,%v", i, c.Latitude, c.Longitude)
		}
	}
	return nil
}
