package handlers

import (
	"net/http"

	"github.com/wpfleet/wpfleet/internal/master/activity"
	"github.com/wpfleet/wpfleet/internal/master/reconcile"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// StorageHandler handles the storage reconciliation endpoint.
type StorageHandler struct {
	store      *store.Store
	reconciler *reconcile.Reconciler
	activity   *activity.Recorder
}

// NewStorageHandler creates a new StorageHandler.
func NewStorageHandler(st *store.Store, rec *reconcile.Reconciler, act *activity.Recorder) *StorageHandler {
	return &StorageHandler{store: st, reconciler: rec, activity: act}
}

// Reconcile handles POST /api/v1/storage/reconcile?dry_run=. Runs
// synchronously; the report is the response body.
func (h *StorageHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "true"
	report, err := h.reconciler.Run(r.Context(), dryRun)
	if err != nil {
		api.InternalServerError(w, "Reconciliation failed")
		return
	}

	if !dryRun {
		h.activity.RecordRequest(r, user, activity.ActionReconcile, "storage", "", nil)
	}
	api.WriteJSONOK(w, report)
}
