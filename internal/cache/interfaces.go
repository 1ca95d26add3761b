package cache

import (
	"context"
	"time"
)

// Cache holds serialized inventory snapshots in front of the
// persistent store, keyed by query (e.g. status filter). Entries are
// short-lived and invalidated whenever a sync cycle merges changes.
// Swapping between the memory cache (single instance) and Redis
// (shared deployments) requires no handler changes.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// GetOrSet retrieves a value or computes and stores it if missing.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error)

	// Clear removes all snapshot entries. Called after every merge
	// that detected changes.
	Clear(ctx context.Context) error

	// Close releases cache resources.
	Close() error
}

// CacheError is a sentinel error type for cache operations.
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
