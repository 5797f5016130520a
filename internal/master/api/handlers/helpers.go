// Package handlers implements the master API endpoints: operator auth,
// fleet management, backup lifecycle and the agent-facing daemon surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wpfleet/wpfleet/pkg/api/middleware"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// validate checks request DTO binding tags.
var validate = validator.New()

// decodeJSONBody decodes a JSON request body into the provided pointer
// and runs struct validation. Returns true if successful; on failure the
// problem response has already been written.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.BadRequest(w, "Invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		api.UnprocessableEntity(w, err.Error())
		return false
	}
	return true
}

// uintParam parses a chi URL parameter as an unsigned id. A zero return
// with false means the problem response was written.
func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		api.BadRequest(w, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// chiURLParam returns the raw chi URL parameter.
func chiURLParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// quotaGBParam parses the quota_gb query parameter into bytes. Zero is
// a valid value and means unlimited.
func quotaGBParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("quota_gb")
	if raw == "" {
		api.BadRequest(w, "quota_gb query parameter required")
		return 0, false
	}
	gb, err := strconv.ParseFloat(raw, 64)
	if err != nil || gb < 0 {
		api.BadRequest(w, "Invalid quota_gb")
		return 0, false
	}
	return int64(gb * (1 << 30)), true
}

// currentUser loads the full account for the request's claims. Writes
// the problem response and returns nil when unauthenticated.
func currentUser(w http.ResponseWriter, r *http.Request, st *store.Store) *models.User {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		api.Unauthorized(w, "Authentication required")
		return nil
	}
	user, err := st.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		api.Unauthorized(w, "User not found")
		return nil
	}
	if !user.IsActive {
		api.Forbidden(w, "User account is disabled")
		return nil
	}
	return user
}

// siteForUser loads a site and enforces the caller's RBAC scope over
// it. Returns nil after writing the problem response on any failure.
// Scope failures read as 404 so site ids cannot be probed.
func siteForUser(w http.ResponseWriter, r *http.Request, st *store.Store, user *models.User, siteID uint) *models.Site {
	ok, err := st.UserCanAccessSite(r.Context(), user, siteID)
	if err != nil {
		api.InternalServerError(w, "Failed to check site access")
		return nil
	}
	if !ok {
		api.NotFound(w, "Site not found")
		return nil
	}
	site, err := st.GetSite(r.Context(), siteID)
	if err != nil {
		api.NotFound(w, "Site not found")
		return nil
	}
	return site
}
