// Package kvstore provides the small expiring key-value abstraction behind the
// OAuth state store, the one-time code store and the access-token cache.
// MemoryStore is process-local; RedisStore lets several instances share state.
package kvstore

import (
	"context"
	"time"
)

// Store is an expiring key-value store. Expired entries must be invisible to
// Get and Take even if SweepExpired has not run yet.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take atomically reads and deletes key. Only one concurrent caller can
	// observe ok == true for a given write.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// SweepExpired removes expired entries and returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)
}
