package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"wholecell-mirror-api/internal/cache"
	"wholecell-mirror-api/internal/model"
	"wholecell-mirror-api/internal/service"
	"wholecell-mirror-api/internal/store"
	"wholecell-mirror-api/internal/wholecell"
	"wholecell-mirror-api/pkg/apierror"
	"wholecell-mirror-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// ESNLookup resolves a single item upstream when the mirror has no
// record for it. *wholecell.Client satisfies it.
type ESNLookup interface {
	FetchByESN(ctx context.Context, esn string) (*model.InventoryItem, error)
}

// InventoryHandler handles inventory read requests.
type InventoryHandler struct {
	orch      *service.Orchestrator
	store     store.Store
	lookup    ESNLookup
	snapshots cache.Cache
	cacheTTL  time.Duration
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(
	orch *service.Orchestrator,
	st store.Store,
	lookup ESNLookup,
	snapshots cache.Cache,
	cacheTTL time.Duration,
) *InventoryHandler {
	return &InventoryHandler{
		orch:      orch,
		store:     st,
		lookup:    lookup,
		snapshots: snapshots,
		cacheTTL:  cacheTTL,
	}
}

// listPayload is the cached body of a list response.
type listPayload struct {
	Items    []model.InventoryItem `json:"items"`
	Count    int                   `json:"count"`
	SyncedAt *time.Time            `json:"synced_at,omitempty"`
}

// List handles GET /api/v1/inventory?status=
// Serves the mirrored dataset cache-first; the orchestrator decides
// whether to bootstrap or reconcile in the background.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	key := "inventory:" + status

	body, err := h.snapshots.GetOrSet(r.Context(), key, h.cacheTTL, func() ([]byte, error) {
		items, err := h.orch.Load(r.Context())
		if err != nil {
			return nil, err
		}

		if status != "" {
			filtered := items[:0:0]
			for _, item := range items {
				if string(item.Status) == status {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}

		payload := listPayload{Items: items, Count: len(items)}
		if meta, err := h.orch.Stats(r.Context()); err == nil && meta != nil {
			at := meta.LastFullSyncAt
			if meta.LastIncrementalSyncAt.After(at) {
				at = meta.LastIncrementalSyncAt
			}
			payload.SyncedAt = &at
		}

		return json.Marshal(payload)
	})
	if err != nil {
		// A load can only fail before the first successful full sync;
		// afterwards the cached dataset is always served.
		if errors.Is(err, wholecell.ErrServiceUnavailable) {
			response.Error(w, apierror.ServiceUnavailable("initial load failed: inventory service unreachable and no cached data to show"))
			return
		}
		response.Error(w, apierror.InternalError("failed to load inventory: "+err.Error()))
		return
	}

	response.OK(w, json.RawMessage(body))
}

// GetByESN handles GET /api/v1/inventory/{esn}
// Serves from the mirror; falls back to a direct upstream lookup when
// the ESN is not mirrored yet.
func (h *InventoryHandler) GetByESN(w http.ResponseWriter, r *http.Request) {
	esn := chi.URLParam(r, "esn")
	if esn == "" {
		response.Error(w, apierror.BadRequest("esn is required"))
		return
	}

	item, err := h.store.GetItem(r.Context(), esn)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to read item: "+err.Error()))
		return
	}

	source := "mirror"
	if item == nil && h.lookup != nil {
		item, err = h.lookup.FetchByESN(r.Context(), esn)
		if err != nil {
			response.Error(w, apierror.ServiceUnavailable("item not mirrored and upstream lookup failed"))
			return
		}
		source = "upstream"
	}

	if item == nil {
		response.Error(w, apierror.NotFound("no inventory record for esn "+esn))
		return
	}

	response.OK(w, map[string]interface{}{
		"item":   item,
		"source": source,
	})
}
