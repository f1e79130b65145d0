//go:build integration

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/forecast-cache-service/internal/testhelpers"
)

func TestPostgresStore_Contract_Integration(t *testing.T) {
	ctx := context.Background()
	pg := testhelpers.StartPostgres(ctx, t)
	store := NewPostgresStore(pg.Pool)

	require.NoError(t, store.Ping(ctx))
	version, err := pg.Pool.Migrate(pg.MigrationsPath)
	require.NoError(t, err, "re-applying migrations is a no-op")
	require.Equal(t, uint(1), version)

	runStoreContract(t, store)

	var n int
	require.NoError(t, pg.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM cached_locations WHERE latitude = 18.52`).Scan(&n))
	require.Equal(t, 2, n, "duplicate inserts are kept")
}
