package wholecell

import (
	"time"

	"wholecell-mirror-api/internal/model"
)

// wireItem is one inventory record as WholeCell returns it. Nested
// descriptors and minor-unit prices are flattened into the local model.
type wireItem struct {
	ESN     string `json:"esn"`
	Product struct {
		Model        string `json:"model"`
		Capacity     string `json:"capacity"`
		Color        string `json:"color"`
		Manufacturer string `json:"manufacturer"`
		Network      string `json:"network"`
	} `json:"product"`
	ProductVariation struct {
		Grade     string `json:"grade"`
		Condition string `json:"condition"`
	} `json:"product_variation"`
	Status  string `json:"status"`
	BatchID string `json:"batch_id"`
	Location struct {
		Name string `json:"name"`
	} `json:"location"`
	Warehouse struct {
		Name string `json:"name"`
	} `json:"warehouse"`
	PurchasePriceCents int64          `json:"purchase_price_cents"`
	SalePriceCents     int64          `json:"sale_price_cents"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
	CustomFields       map[string]any `json:"custom_fields"`
}

// transformItem maps one wire record to the local model.
func transformItem(w wireItem) model.InventoryItem {
	return model.InventoryItem{
		ESN: w.ESN,
		Product: model.Product{
			Model:        w.Product.Model,
			Capacity:     w.Product.Capacity,
			Color:        w.Product.Color,
			Manufacturer: w.Product.Manufacturer,
			Network:      w.Product.Network,
		},
		Grade:          w.ProductVariation.Grade,
		Condition:      w.ProductVariation.Condition,
		Status:         model.Status(w.Status),
		BatchID:        w.BatchID,
		Location:       w.Location.Name,
		Warehouse:      w.Warehouse.Name,
		CostCents:      w.PurchasePriceCents,
		SalePriceCents: w.SalePriceCents,
		CreatedAt:      parseTime(w.CreatedAt),
		UpdatedAt:      parseTime(w.UpdatedAt),
		CustomFields:   w.CustomFields,
	}
}

// transformPage maps a page of wire records, dropping entries without
// an ESN: a record with no stable identifier cannot be stored.
func transformPage(items []wireItem) []model.InventoryItem {
	out := make([]model.InventoryItem, 0, len(items))
	for _, w := range items {
		if w.ESN == "" {
			continue
		}
		out = append(out, transformItem(w))
	}
	return out
}

// parseTime accepts the timestamp formats WholeCell has been observed
// to emit. Unparseable values become the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
