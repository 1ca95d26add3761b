package service

import (
	"time"

	"wholecell-mirror-api/internal/model"
)

// Diff compares two full dataset snapshots keyed by ESN, independent
// of slice order. Items only in current are new; items in both with a
// differing fingerprint are modified, with per-tracked-field deltas;
// items only in previous are removed. An ESN lands in at most one
// bucket.
//
// The orchestrator uses Diff after a forced full resync; consumers can
// also diff two arbitrary snapshots ("what changed since I last
// looked").
func Diff(previous, current []model.InventoryItem) *model.ChangeSet {
	prev := make(map[string]model.InventoryItem, len(previous))
	for _, item := range previous {
		prev[item.ESN] = item
	}

	cs := &model.ChangeSet{CheckedAt: time.Now().UTC()}

	seen := make(map[string]bool, len(current))
	for _, item := range current {
		seen[item.ESN] = true

		old, ok := prev[item.ESN]
		if !ok {
			cs.New = append(cs.New, item)
			continue
		}
		if Fingerprint(old) == Fingerprint(item) {
			continue
		}

		change := model.ItemChange{
			ESN:    item.ESN,
			Item:   item,
			Deltas: TrackedDeltas(old, item),
		}
		cs.Modified = append(cs.Modified, change)
		if old.Status != item.Status {
			cs.StatusChanged = append(cs.StatusChanged, change)
		}
	}

	for _, item := range previous {
		if !seen[item.ESN] {
			cs.Removed = append(cs.Removed, item)
		}
	}

	return cs
}
