package handler

import (
	"net/http"
	"runtime"
	"time"

	"wholecell-mirror-api/internal/store"
	"wholecell-mirror-api/pkg/response"
)

// StartTime tracks when the server started for uptime calculation
var StartTime = time.Now()

// Handler contains shared HTTP handlers and their dependencies.
type Handler struct {
	store   store.Store
	version string
}

// New creates a new handler.
func New(st store.Store, version string) *Handler {
	return &Handler{store: st, version: version}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
	response.OK(w, resp)
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := []Check{
		{Name: "api", Status: "ok"},
	}

	storeStatus := "ok"
	if h.store != nil {
		if _, err := h.store.Count(r.Context()); err != nil {
			storeStatus = "error"
		}
	}
	checks = append(checks, Check{Name: "store", Status: storeStatus})

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	resp := ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

// StatusChecks represents the checks in status response
type StatusChecks struct {
	Store    string  `json:"store"`
	MemoryMB float64 `json:"memory_mb"`
}

// StatusResponse represents the unified status response for uptime monitoring
type StatusResponse struct {
	Service       string       `json:"service"`
	Status        string       `json:"status"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Checks        StatusChecks `json:"checks"`
}

// Status handles GET /api/status - unified health check for monitoring
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	storeStatus := "ok"
	if h.store != nil {
		if _, err := h.store.Count(r.Context()); err != nil {
			storeStatus = "error"
		}
	}

	resp := StatusResponse{
		Service:       "wholecell-mirror-api",
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(StartTime).Seconds()),
		Checks: StatusChecks{
			Store:    storeStatus,
			MemoryMB: float64(int(memoryMB*100)) / 100,
		},
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, resp)
}
