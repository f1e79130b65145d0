package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kjstillabower/forecast-cache-service/internal/db"
	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

// querier is the subset of pgxpool.Pool used by PostgresStore.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps records in cached_locations and cached_forecasts.
// Response columns are JSON (not JSONB) so payload text is returned as stored.
type PostgresStore struct {
	q    querier
	pool *db.Pool
}

// NewPostgresStore wraps a migrated pool.
func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{q: pool, pool: pool}
}

func (s *PostgresStore) FindLocation(ctx context.Context, lat, lon float64) (models.CachedLocation, bool, error) {
	query := `
		SELECT latitude, longitude, response, created_at, modified_at
		FROM cached_locations
		WHERE latitude = $1 AND longitude = $2
		ORDER BY id
		LIMIT 1
	`
	var loc models.CachedLocation
	var response []byte
	err := s.q.QueryRow(ctx, query, lat, lon).Scan(
		&loc.Latitude,
		&loc.Longitude,
		&response,
		&loc.CreatedAt,
		&loc.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CachedLocation{}, false, nil
		}
		return models.CachedLocation{}, false, fmt.Errorf("failed to find location: %w", err)
	}
	loc.Response = response
	return loc, true, nil
}

func (s *PostgresStore) FindForecast(ctx context.Context, locationKey string, forecastType models.ForecastType) (models.CachedForecast, bool, error) {
	query := `
		SELECT location_key, type, response, created_at, modified_at
		FROM cached_forecasts
		WHERE location_key = $1 AND type = $2
		ORDER BY id
		LIMIT 1
	`
	var f models.CachedForecast
	var typ string
	var response []byte
	err := s.q.QueryRow(ctx, query, locationKey, string(forecastType)).Scan(
		&f.LocationKey,
		&typ,
		&response,
		&f.CreatedAt,
		&f.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CachedForecast{}, false, nil
		}
		return models.CachedForecast{}, false, fmt.Errorf("failed to find forecast: %w", err)
	}
	f.Type = models.ForecastType(typ)
	f.Response = response
	return f, true, nil
}

func (s *PostgresStore) InsertLocation(ctx context.Context, loc models.CachedLocation) error {
	query := `
		INSERT INTO cached_locations (latitude, longitude, response, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.q.Exec(ctx, query, loc.Latitude, loc.Longitude, string(loc.Response), loc.CreatedAt, loc.ModifiedAt); err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertForecast(ctx context.Context, f models.CachedForecast) error {
	query := `
		INSERT INTO cached_forecasts (location_key, type, response, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.q.Exec(ctx, query, f.LocationKey, string(f.Type), string(f.Response), f.CreatedAt, f.ModifiedAt); err != nil {
		return fmt.Errorf("failed to insert forecast: %w", err)
	}
	return nil
}

func (s *PostgresStore) Name() string { return BackendPostgres }

// Ping checks database reachability.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Health(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
