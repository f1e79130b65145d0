package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-cache-service/internal/db"
)

// Options selects and configures the store backend.
type Options struct {
	Backend string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	Postgres *db.Config

	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration
}

// Open builds the configured store. A backend without connection settings
// falls back to DisabledStore, which is not an error.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	disabled := func(reason string) (Store, error) {
		logger.Warn("forecast store disabled", zap.String("backend", opts.Backend), zap.String("reason", reason))
		return NewDisabledStore(), nil
	}

	switch opts.Backend {
	case "", BackendDisabled:
		return disabled("not configured")
	case BackendInMemory:
		return NewInMemoryStore(), nil
	case BackendMemcached:
		if len(parseAddrs(opts.MemcachedAddrs)) == 0 {
			return disabled("no memcached addresses")
		}
		return NewMemcachedStore(opts.MemcachedAddrs, opts.MemcachedTimeout, opts.MemcachedMaxIdleConns)
	case BackendPostgres:
		if opts.Postgres == nil || opts.Postgres.DSN == "" {
			return disabled("no postgres DSN")
		}
		pool, err := db.NewPool(ctx, opts.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return NewPostgresStore(pool), nil
	case BackendMongo:
		if opts.MongoURI == "" {
			return disabled("no mongo URI")
		}
		store, err := NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoTimeout)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
