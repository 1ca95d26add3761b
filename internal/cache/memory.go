package cache

import (
	"context"
	"sync"
	"time"
)

// snapshotEntry is one cached snapshot with its expiry.
type snapshotEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-memory implementation of Cache. Expired entries
// are dropped lazily on access; snapshot TTLs are short enough that a
// background sweeper would buy nothing.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]snapshotEntry
}

// NewMemoryCache creates a new in-memory snapshot cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]snapshotEntry)}
}

// Get retrieves a value by key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, ErrCacheMiss
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}

	result := make([]byte, len(entry.value))
	copy(result, entry.value)
	return result, nil
}

// Set stores a value with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	c.entries[key] = snapshotEntry{value: valueCopy, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes a value by key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// GetOrSet retrieves a value or computes and stores it if missing.
func (c *MemoryCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		return nil, err
	}
	return value, nil
}

// Clear removes all snapshot entries.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]snapshotEntry)
	c.mu.Unlock()
	return nil
}

// Close is a no-op for the memory cache.
func (c *MemoryCache) Close() error {
	return nil
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
