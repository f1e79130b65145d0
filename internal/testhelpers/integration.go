//go:build integration

// Package testhelpers provisions live backends for tests built with the integration tag.
package testhelpers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/forecast-cache-service/internal/client"
	"github.com/kjstillabower/forecast-cache-service/internal/db"
)

// Provider holds live AccuWeather settings.
type Provider struct {
	APIKey string
	APIURL string
}

// RequireProvider skips the test unless WEATHER_API_KEY is set.
func RequireProvider(t *testing.T) Provider {
	t.Helper()
	key := os.Getenv("WEATHER_API_KEY")
	if key == "" {
		t.Skip("WEATHER_API_KEY not set, skipping live provider test")
	}
	url := os.Getenv("WEATHER_API_URL")
	if url == "" {
		url = client.DefaultBaseURL
	}
	return Provider{APIKey: key, APIURL: url}
}

// MemcachedAddrs returns MEMCACHED_ADDRS, defaulting to a local server.
func MemcachedAddrs() string {
	if v := os.Getenv("MEMCACHED_ADDRS"); v != "" {
		return v
	}
	return "localhost:11211"
}

// RequireMongoURI skips the test unless MONGO_DB_URI is set.
func RequireMongoURI(t *testing.T) string {
	t.Helper()
	uri := os.Getenv("MONGO_DB_URI")
	if uri == "" {
		t.Skip("MONGO_DB_URI not set, skipping mongo test")
	}
	return uri
}

// Postgres is a throwaway database with the forecast cache schema applied.
type Postgres struct {
	Pool           *db.Pool
	DSN            string
	MigrationsPath string
}

// StartPostgres runs postgres:16-alpine in a container and opens a pool through db.NewPool,
// so the startup migration path is the one under test. Both are released on cleanup.
func StartPostgres(ctx context.Context, t *testing.T) *Postgres {
	t.Helper()

	container, err := pg.Run(ctx, "postgres:16-alpine",
		pg.WithDatabase("forecastcache"),
		pg.WithUsername("forecast"),
		pg.WithPassword("forecast"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	migrations, err := findMigrationsDir()
	require.NoError(t, err)

	cfg := db.DefaultConfig()
	cfg.DSN = dsn
	cfg.MaxConns = 4
	cfg.MigrationsPath = migrations
	pool, err := db.NewPool(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err, "open forecast cache pool")
	t.Cleanup(pool.Close)

	return &Postgres{Pool: pool, DSN: dsn, MigrationsPath: migrations}
}

// findMigrationsDir walks up from the working directory to the repository's migrations directory.
func findMigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if matches, _ := filepath.Glob(filepath.Join(candidate, "*.up.sql")); len(matches) > 0 {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("migrations directory not found")
		}
		dir = parent
	}
}
