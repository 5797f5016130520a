package handlers

import (
	"net/http"
	"strconv"

	"github.com/wpfleet/wpfleet/internal/master/activity"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// ActivityHandler handles the activity log endpoint.
type ActivityHandler struct {
	store    *store.Store
	recorder *activity.Recorder
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(st *store.Store, rec *activity.Recorder) *ActivityHandler {
	return &ActivityHandler{store: st, recorder: rec}
}

// List handles GET /api/v1/activity. Users see their own trail; a
// super admin may pass user_id to read someone else's.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}

	targetID := user.ID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		if user.Role != models.RoleSuperAdmin {
			api.Forbidden(w, "Only super admins may read other users' activity")
			return
		}
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			api.BadRequest(w, "Invalid user_id")
			return
		}
		targetID = uint(id)
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.recorder.ListForUser(r.Context(), targetID, limit)
	if err != nil {
		api.InternalServerError(w, "Failed to list activity")
		return
	}
	api.WriteJSONOK(w, entries)
}
