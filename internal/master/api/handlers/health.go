package handlers

import (
	"net/http"
	"time"

	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store   *store.Store
	version string
	started time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(st *store.Store, version string) *HealthHandler {
	return &HealthHandler{store: st, version: version, started: time.Now()}
}

// Liveness handles GET /health. Always 200 while the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	api.WriteJSONOK(w, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Readiness handles GET /health/ready. Not ready until the database
// answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	api.WriteJSONOK(w, map[string]any{"status": "ready"})
}
