package store

import (
	"context"

	"wholecell-mirror-api/internal/model"
)

// Store is durable keyed storage for mirrored inventory. Three logical
// tables: items (esn -> full record), fingerprints (esn -> change
// oracle), and a single sync-metadata row. Implementations must apply
// ApplyBatch atomically so a mid-batch failure never leaves an item
// and its fingerprint inconsistent for the same ESN.
type Store interface {
	// GetAll returns every stored item; used for instant display on
	// cache hit.
	GetAll(ctx context.Context) ([]model.InventoryItem, error)

	// GetItem returns one item by ESN, or nil if absent.
	GetItem(ctx context.Context, esn string) (*model.InventoryItem, error)

	// ApplyBatch upserts items and their fingerprints in one atomic
	// batch. Used by the full-sync bootstrap and incremental merges.
	ApplyBatch(ctx context.Context, items []model.InventoryItem, fps []model.Fingerprint) error

	// GetFingerprint returns the stored fingerprint for an ESN, or ""
	// if none is stored.
	GetFingerprint(ctx context.Context, esn string) (string, error)

	// GetFingerprints returns all stored fingerprints keyed by ESN.
	GetFingerprints(ctx context.Context) (map[string]string, error)

	// GetMetadata returns the sync metadata, or nil before the first
	// successful full sync.
	GetMetadata(ctx context.Context) (*model.SyncMetadata, error)

	// PutMetadata writes the sync metadata row.
	PutMetadata(ctx context.Context, meta *model.SyncMetadata) error

	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)

	// Clear wipes all three tables. Only the explicit user-triggered
	// reset calls this.
	Clear(ctx context.Context) error

	// GetStats returns statistics about the underlying storage.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the store connection.
	Close() error
}
