package cache

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store error labels used on cacheErrorsTotal.
const (
	ErrorCategoryCorrupt    = "corrupt"
	ErrorCategoryTimeout    = "timeout"
	ErrorCategoryConnection = "connection"
	ErrorCategoryUnknown    = "unknown"
)

// CategorizeError maps a store error to a bounded metric label by inspecting the
// error chain, including the driver-specific timeout and network errors.
func CategorizeError(err error) string {
	var (
		netErr        net.Error
		connectErr    *pgconn.ConnectError
		memcachedDial *memcache.ConnectTimeoutError
	)
	switch {
	case err == nil:
		return ErrorCategoryUnknown
	case errors.Is(err, ErrCorruptDocument):
		return ErrorCategoryCorrupt
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err), mongo.IsTimeout(err):
		return ErrorCategoryTimeout
	case errors.As(err, &memcachedDial):
		return ErrorCategoryTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryConnection
	case errors.As(err, &connectErr), mongo.IsNetworkError(err),
		errors.Is(err, memcache.ErrNoServers), errors.Is(err, memcache.ErrServerError),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ErrorCategoryConnection
	}
	return ErrorCategoryUnknown
}
