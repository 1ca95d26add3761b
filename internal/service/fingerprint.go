package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"wholecell-mirror-api/internal/model"
)

// trackedField is one field that participates in change detection.
// The list below is fixed and ordered; untracked fields never affect
// the fingerprint.
type trackedField struct {
	name  string
	value func(model.InventoryItem) string
}

// trackedFields is the explicit ordered set of mutable fields the
// fingerprint covers. Missing values serialize as the empty string, so
// "field absent" and "field explicitly empty" fingerprint identically.
var trackedFields = []trackedField{
	{"status", func(i model.InventoryItem) string { return string(i.Status) }},
	{"grade", func(i model.InventoryItem) string { return i.Grade }},
	{"cost_cents", func(i model.InventoryItem) string { return strconv.FormatInt(i.CostCents, 10) }},
	{"location", func(i model.InventoryItem) string { return i.Location }},
	{"condition", func(i model.InventoryItem) string { return i.Condition }},
	{"updated_at", func(i model.InventoryItem) string {
		if i.UpdatedAt.IsZero() {
			return ""
		}
		return i.UpdatedAt.UTC().Format(time.RFC3339)
	}},
}

// Fingerprint derives a compact deterministic digest over the tracked
// fields of an item. It is an equality oracle only: two items with the
// same tracked values always produce the same fingerprint, and any
// tracked-field change produces a different one. Never decoded.
func Fingerprint(item model.InventoryItem) string {
	var b strings.Builder
	for n, f := range trackedFields {
		if n > 0 {
			b.WriteByte('|')
		}
		b.WriteString(f.name)
		b.WriteByte('=')
		b.WriteString(f.value(item))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// TrackedDeltas reports every tracked field that differs between two
// versions of the same item as {field, old, new} triples.
func TrackedDeltas(old, current model.InventoryItem) []model.FieldDelta {
	var deltas []model.FieldDelta
	for _, f := range trackedFields {
		ov, nv := f.value(old), f.value(current)
		if ov != nv {
			deltas = append(deltas, model.FieldDelta{
				Field:    f.name,
				OldValue: ov,
				NewValue: nv,
			})
		}
	}
	return deltas
}
