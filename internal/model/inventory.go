package model

import "time"

// Status is the lifecycle state reported by WholeCell for a unit.
type Status string

const (
	StatusAvailable  Status = "Available"
	StatusSold       Status = "Sold"
	StatusProcessing Status = "Processing"
	StatusReserved   Status = "Reserved"
	StatusInTransit  Status = "In Transit"
	StatusDamaged    Status = "Damaged"
	StatusReturned   Status = "Returned"
	StatusLocked     Status = "Locked"
)

// Product describes the device classification nested under each
// inventory record (WholeCell "product" object).
type Product struct {
	Model        string `json:"model"`
	Capacity     string `json:"capacity"`
	Color        string `json:"color"`
	Manufacturer string `json:"manufacturer"`
	Network      string `json:"network"`
}

// InventoryItem is the canonical record for one physical unit.
// ESN (serial/IMEI) is the stable identifier; it never changes for
// the lifetime of the record.
type InventoryItem struct {
	ESN            string    `json:"esn"`
	Product        Product   `json:"product"`
	Grade          string    `json:"grade"`
	Condition      string    `json:"condition"`
	Status         Status    `json:"status"`
	BatchID        string    `json:"batch_id"`
	Location       string    `json:"location"`
	Warehouse      string    `json:"warehouse"`
	CostCents      int64     `json:"cost_cents"`
	SalePriceCents int64     `json:"sale_price_cents"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// CustomFields carries WholeCell custom fields opaquely. Keys are
	// not known at compile time; values are limited to string, float64,
	// bool or nil (JSON scalars).
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// Fingerprint is the stored change-detection record for one item.
type Fingerprint struct {
	ESN        string    `json:"esn"`
	Value      string    `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}
