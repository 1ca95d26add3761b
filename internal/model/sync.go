package model

import "time"

// Sync type markers stored in SyncMetadata.
const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
)

// SyncMetadata is the single process-wide sync bookkeeping record.
// LastFullSyncAt is set once per full bootstrap and gates whether
// future loads reconcile incrementally instead of refetching
// everything; it is never treated as expired by elapsed time.
type SyncMetadata struct {
	LastFullSyncAt        time.Time `json:"last_full_sync_at"`
	LastIncrementalSyncAt time.Time `json:"last_incremental_sync_at"`
	ItemCount             int       `json:"item_count"`
	LastChangeCount       int       `json:"last_change_count"`
	SyncType              string    `json:"sync_type"`
}

// SyncPhase is the orchestrator's current position in the sync
// state machine.
type SyncPhase string

const (
	PhaseEmpty            SyncPhase = "EMPTY"
	PhaseFullSync         SyncPhase = "FULL_SYNC"
	PhaseReady            SyncPhase = "READY"
	PhaseIncrementalCheck SyncPhase = "INCREMENTAL_CHECK"
	PhaseMerging          SyncPhase = "MERGING"
)

// SyncProgress reports page-fetch progress for UI progress bars.
type SyncProgress struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// FieldDelta is one tracked-field difference on a modified item.
type FieldDelta struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// ItemChange is one modified item together with its field deltas.
type ItemChange struct {
	ESN    string        `json:"esn"`
	Item   InventoryItem `json:"item"`
	Deltas []FieldDelta  `json:"deltas"`
}

// ChangeSet is the result of comparing two dataset snapshots. An ESN
// appears in at most one of New/Modified/Removed per cycle.
type ChangeSet struct {
	New           []InventoryItem `json:"new"`
	Modified      []ItemChange    `json:"modified"`
	Removed       []InventoryItem `json:"removed"`
	StatusChanged []ItemChange    `json:"status_changed"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// HasChanges reports whether the comparison found any difference.
func (c *ChangeSet) HasChanges() bool {
	return len(c.New) > 0 || len(c.Modified) > 0 || len(c.Removed) > 0
}

// Total is the number of ESNs classified new, modified or removed.
func (c *ChangeSet) Total() int {
	return len(c.New) + len(c.Modified) + len(c.Removed)
}
