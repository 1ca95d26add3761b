package handler

import (
	"errors"
	"net/http"
	"time"

	"wholecell-mirror-api/internal/service"
	"wholecell-mirror-api/internal/store"
	"wholecell-mirror-api/internal/wholecell"
	"wholecell-mirror-api/pkg/apierror"
	"wholecell-mirror-api/pkg/response"
)

// SyncHandler exposes sync maintenance operations.
type SyncHandler struct {
	orch  *service.Orchestrator
	store store.Store
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(orch *service.Orchestrator, st store.Store) *SyncHandler {
	return &SyncHandler{orch: orch, store: st}
}

// Status handles GET /api/v1/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"phase":    h.orch.Phase(),
		"progress": h.orch.Progress(),
	})
}

// Stats handles GET /api/v1/sync/stats
func (h *SyncHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	meta, err := h.orch.Stats(ctx)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to read sync metadata: "+err.Error()))
		return
	}

	stats := map[string]interface{}{
		"metadata": meta, // nil until the first full sync
		"phase":    h.orch.Phase(),
	}
	if storeStats, err := h.store.GetStats(ctx); err == nil {
		stats["store"] = storeStats
	}

	response.OK(w, stats)
}

// Changes handles GET /api/v1/sync/changes
func (h *SyncHandler) Changes(w http.ResponseWriter, r *http.Request) {
	cs := h.orch.LastChangeSet()
	if cs == nil {
		response.OK(w, map[string]interface{}{
			"has_changes": false,
			"message":     "no sync cycle has completed yet",
		})
		return
	}

	response.OK(w, map[string]interface{}{
		"has_changes": cs.HasChanges(),
		"changes":     cs,
	})
}

// ForceFullSync handles POST /api/v1/sync/full
// Clears the mirror and refetches every page. With a rate-limited
// multi-thousand-page upstream this can run for a long time; the
// server write timeout is sized accordingly.
func (h *SyncHandler) ForceFullSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	items, err := h.orch.ForceFullSync(r.Context())
	if err != nil {
		if errors.Is(err, wholecell.ErrServiceUnavailable) {
			response.Error(w, apierror.ServiceUnavailable("full sync failed: inventory service unreachable"))
			return
		}
		response.Error(w, apierror.InternalError("full sync failed: "+err.Error()))
		return
	}

	response.OK(w, map[string]interface{}{
		"status":     "synced",
		"item_count": len(items),
		"elapsed":    time.Since(start).Round(time.Millisecond).String(),
	})
}

// ClearCache handles DELETE /api/v1/cache
func (h *SyncHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ClearCache(r.Context()); err != nil {
		response.Error(w, apierror.InternalError("failed to clear cache: "+err.Error()))
		return
	}

	response.NoContent(w)
}
