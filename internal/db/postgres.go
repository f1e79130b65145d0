// Package db opens the Postgres pool backing the forecast cache and keeps its schema current.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// ErrDirtySchema is returned when a previous migration failed half way and needs manual repair.
var ErrDirtySchema = errors.New("forecast cache schema is dirty")

// Config holds Postgres connection and pool settings. Zero pool values keep the pgx defaults.
type Config struct {
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration

	SkipMigrations bool
	MigrationsPath string

	Retry RetryConfig
}

// DefaultConfig returns pool defaults; DSN must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		MaxConns:        10,
		MinConns:        1,
		MaxConnIdleTime: 30 * time.Minute,
		MigrationsPath:  "migrations",
		Retry:           DefaultRetryConfig(),
	}
}

// Pool is a pgx connection pool whose schema has been migrated.
type Pool struct {
	*pgxpool.Pool
	logger *zap.Logger
}

// NewPool connects, retrying while the server is unreachable, and migrates the schema
// unless cfg.SkipMigrations is set.
func NewPool(ctx context.Context, cfg *Config, logger *zap.Logger) (*Pool, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("postgres DSN is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	err = Retry(ctx, cfg.Retry, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("postgres not reachable yet", zap.Error(err))
			return fmt.Errorf("ping: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	p := &Pool{Pool: pool, logger: logger}
	if cfg.SkipMigrations {
		return p, nil
	}
	version, err := p.Migrate(firstNonEmpty(cfg.MigrationsPath, "migrations"))
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("forecast cache schema ready", zap.Uint("version", version))
	return p, nil
}

// buildPoolConfig parses cfg.DSN and applies the non-zero pool limits.
func buildPoolConfig(cfg *Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= poolConfig.MaxConns {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	return poolConfig, nil
}

// Health pings the database with a short deadline.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health: %w", err)
	}
	return nil
}

// Migrate applies pending migrations from dir and returns the resulting schema version,
// 0 when dir holds no migrations.
func (p *Pool) Migrate(dir string) (uint, error) {
	sqlDB := stdlib.OpenDB(*p.Config().ConnConfig)
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("load migrations from %s: %w", dir, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
