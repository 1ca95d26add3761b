package store

import (
	"context"
	"sync"
	"time"

	"wholecell-mirror-api/internal/model"
)

// MemoryStore is an in-memory implementation of Store.
// Use this for development/testing; contents do not survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]model.InventoryItem
	fps      map[string]model.Fingerprint
	metadata *model.SyncMetadata
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]model.InventoryItem),
		fps:   make(map[string]model.Fingerprint),
	}
}

// GetAll returns every stored item.
func (s *MemoryStore) GetAll(ctx context.Context) ([]model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	return items, nil
}

// GetItem returns one item by ESN, or nil if absent.
func (s *MemoryStore) GetItem(ctx context.Context, esn string) (*model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[esn]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// ApplyBatch upserts items and fingerprints.
func (s *MemoryStore) ApplyBatch(ctx context.Context, items []model.InventoryItem, fps []model.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.items[item.ESN] = item
	}
	for _, fp := range fps {
		s.fps[fp.ESN] = fp
	}
	return nil
}

// GetFingerprint returns the stored fingerprint for an ESN, or "".
func (s *MemoryStore) GetFingerprint(ctx context.Context, esn string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fps[esn].Value, nil
}

// GetFingerprints returns all stored fingerprints keyed by ESN.
func (s *MemoryStore) GetFingerprints(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fps := make(map[string]string, len(s.fps))
	for esn, fp := range s.fps {
		fps[esn] = fp.Value
	}
	return fps, nil
}

// GetMetadata returns the sync metadata, or nil before the first full sync.
func (s *MemoryStore) GetMetadata(ctx context.Context) (*model.SyncMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.metadata == nil {
		return nil, nil
	}
	meta := *s.metadata
	return &meta, nil
}

// PutMetadata writes the sync metadata.
func (s *MemoryStore) PutMetadata(ctx context.Context, meta *model.SyncMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := *meta
	s.metadata = &m
	return nil
}

// Count returns the number of stored items.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items), nil
}

// Clear wipes all stored state.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]model.InventoryItem)
	s.fps = make(map[string]model.Fingerprint)
	s.metadata = nil
	return nil
}

// GetStats returns statistics about the store.
func (s *MemoryStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"total_items":        len(s.items),
		"total_fingerprints": len(s.fps),
	}
	if s.metadata != nil {
		stats["last_write"] = lastOf(s.metadata.LastFullSyncAt, s.metadata.LastIncrementalSyncAt)
	}
	return stats, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func lastOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
