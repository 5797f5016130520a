package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wpfleet/wpfleet/internal/master/progress"
	"github.com/wpfleet/wpfleet/pkg/api/middleware"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// StreamHandler serves the live backup progress feed as Server-Sent
// Events. Both the operator UI (bearer token, possibly via ?token= for
// EventSource) and the node agent (API key) consume it.
type StreamHandler struct {
	store    *store.Store
	progress *progress.Service
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(st *store.Store, ps *progress.Service) *StreamHandler {
	return &StreamHandler{store: st, progress: ps}
}

// Stream handles GET /api/v1/daemon/backup/stream/{site_id}?interval=.
//
// The contract: a snapshot immediately on subscribe, another on every
// change or keepalive tick, and one final event at a terminal state
// before the stream closes. Event ids are "<epoch>.<seq>" so a client
// can detect job boundaries across reconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	siteID, ok := uintParam(w, r, "site_id")
	if !ok {
		return
	}
	if !h.authorize(w, r, siteID) {
		return
	}

	interval := progress.DefaultStreamInterval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			interval = d
		} else if secs, err := time.ParseDuration(raw + "s"); err == nil {
			interval = secs
		}
	}
	interval = progress.ClampStreamInterval(interval)

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.InternalServerError(w, "Streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	changes, unsubscribe := h.progress.Subscribe(siteID)
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq int64
	send := func() (terminal bool) {
		row, err := h.progress.Get(r.Context(), siteID)
		if err != nil {
			return true
		}
		seq++
		writeSSEEvent(w, row, seq)
		flusher.Flush()
		return row.State.IsTerminal()
	}

	if send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if send() {
				return
			}
		case <-ticker.C:
			if send() {
				return
			}
		}
	}
}

// authorize admits the owning node or any user with scope over the site.
func (h *StreamHandler) authorize(w http.ResponseWriter, r *http.Request, siteID uint) bool {
	if node := middleware.GetNodeFromContext(r.Context()); node != nil {
		site, err := h.store.GetSite(r.Context(), siteID)
		if err != nil || site.NodeID != node.ID {
			api.NotFound(w, "Site not found")
			return false
		}
		return true
	}
	user := currentUser(w, r, h.store)
	if user == nil {
		return false
	}
	return siteForUser(w, r, h.store, user, siteID) != nil
}

func writeSSEEvent(w http.ResponseWriter, row *models.BackupProgress, seq int64) {
	payload, err := json.Marshal(row)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\nid: %d.%d\ndata: %s\n\n", row.Epoch, seq, payload)
}
