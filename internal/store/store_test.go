package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wholecell-mirror-api/internal/model"
)

// openBackends returns every Store implementation the suite exercises.
// MySQL is excluded: it needs a live server and is covered by the same
// interface contract.
func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mem := NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": mem,
	}
}

func testItem(esn string, status model.Status) model.InventoryItem {
	return model.InventoryItem{
		ESN:    esn,
		Status: status,
		Product: model.Product{
			Model:        "iPhone 13",
			Manufacturer: "Apple",
		},
		Grade:     "A",
		Location:  "Main - Receiving",
		CostCents: 25000,
		UpdatedAt: time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC),
		CustomFields: map[string]any{
			"lock_status": "Unlocked",
		},
	}
}

func testFingerprint(esn, value string) model.Fingerprint {
	return model.Fingerprint{ESN: esn, Value: value, ComputedAt: time.Now().UTC()}
}

func TestStoreEmpty(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			items, err := s.GetAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, items)

			item, err := s.GetItem(ctx, "MISSING")
			require.NoError(t, err)
			assert.Nil(t, item)

			fp, err := s.GetFingerprint(ctx, "MISSING")
			require.NoError(t, err)
			assert.Empty(t, fp)

			meta, err := s.GetMetadata(ctx)
			require.NoError(t, err)
			assert.Nil(t, meta, "metadata must be nil before the first sync")

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestStoreApplyBatchRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			items := []model.InventoryItem{
				testItem("ESN-001", model.StatusAvailable),
				testItem("ESN-002", model.StatusSold),
			}
			fps := []model.Fingerprint{
				testFingerprint("ESN-001", "fp-001"),
				testFingerprint("ESN-002", "fp-002"),
			}
			require.NoError(t, s.ApplyBatch(ctx, items, fps))

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			got, err := s.GetItem(ctx, "ESN-001")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, model.StatusAvailable, got.Status)
			assert.Equal(t, "iPhone 13", got.Product.Model)
			assert.Equal(t, int64(25000), got.CostCents)
			assert.Equal(t, "Unlocked", got.CustomFields["lock_status"])

			fp, err := s.GetFingerprint(ctx, "ESN-002")
			require.NoError(t, err)
			assert.Equal(t, "fp-002", fp)

			all, err := s.GetFingerprints(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"ESN-001": "fp-001", "ESN-002": "fp-002"}, all)
		})
	}
}

func TestStoreApplyBatchUpserts(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.ApplyBatch(ctx,
				[]model.InventoryItem{testItem("ESN-001", model.StatusAvailable)},
				[]model.Fingerprint{testFingerprint("ESN-001", "fp-v1")}))

			// Re-applying the same ESN overwrites; no duplicate rows.
			require.NoError(t, s.ApplyBatch(ctx,
				[]model.InventoryItem{testItem("ESN-001", model.StatusSold)},
				[]model.Fingerprint{testFingerprint("ESN-001", "fp-v2")}))

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			got, err := s.GetItem(ctx, "ESN-001")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, model.StatusSold, got.Status)

			fp, err := s.GetFingerprint(ctx, "ESN-001")
			require.NoError(t, err)
			assert.Equal(t, "fp-v2", fp)
		})
	}
}

func TestStoreApplyBatchEmptyIsNoop(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.ApplyBatch(ctx, nil, nil))

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestStoreMetadataRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			meta := &model.SyncMetadata{
				LastFullSyncAt:  time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC),
				ItemCount:       4821,
				LastChangeCount: 12,
				SyncType:        model.SyncTypeFull,
			}
			require.NoError(t, s.PutMetadata(ctx, meta))

			got, err := s.GetMetadata(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 4821, got.ItemCount)
			assert.Equal(t, model.SyncTypeFull, got.SyncType)
			assert.True(t, got.LastFullSyncAt.Equal(meta.LastFullSyncAt))

			// The row is a singleton: a second write replaces it.
			meta.SyncType = model.SyncTypeIncremental
			meta.LastChangeCount = 2
			require.NoError(t, s.PutMetadata(ctx, meta))

			got, err = s.GetMetadata(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, model.SyncTypeIncremental, got.SyncType)
			assert.Equal(t, 2, got.LastChangeCount)
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.ApplyBatch(ctx,
				[]model.InventoryItem{testItem("ESN-001", model.StatusAvailable)},
				[]model.Fingerprint{testFingerprint("ESN-001", "fp-001")}))
			require.NoError(t, s.PutMetadata(ctx, &model.SyncMetadata{ItemCount: 1}))

			require.NoError(t, s.Clear(ctx))

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)

			fps, err := s.GetFingerprints(ctx)
			require.NoError(t, err)
			assert.Empty(t, fps)

			meta, err := s.GetMetadata(ctx)
			require.NoError(t, err)
			assert.Nil(t, meta, "clearing must drop metadata so the next load bootstraps")
		})
	}
}

func TestStoreStats(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.ApplyBatch(ctx,
				[]model.InventoryItem{
					testItem("ESN-001", model.StatusAvailable),
					testItem("ESN-002", model.StatusSold),
				},
				[]model.Fingerprint{testFingerprint("ESN-001", "fp-001")}))

			stats, err := s.GetStats(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 2, stats["total_items"])
			assert.EqualValues(t, 1, stats["total_fingerprints"])
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.ApplyBatch(ctx,
		[]model.InventoryItem{testItem("ESN-001", model.StatusAvailable)},
		[]model.Fingerprint{testFingerprint("ESN-001", "fp-001")}))
	require.NoError(t, s.PutMetadata(ctx, &model.SyncMetadata{ItemCount: 1, SyncType: model.SyncTypeFull}))
	require.NoError(t, s.Close())

	// A restart must see the mirrored data: warm start depends on it.
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetItem(ctx, "ESN-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusAvailable, got.Status)

	meta, err := s.GetMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.ItemCount)
}
