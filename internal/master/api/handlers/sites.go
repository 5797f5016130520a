package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wpfleet/wpfleet/internal/master/activity"
	"github.com/wpfleet/wpfleet/internal/master/quota"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// SitesHandler handles site listing, quota and schedule endpoints.
type SitesHandler struct {
	store    *store.Store
	quota    *quota.Service
	activity *activity.Recorder
}

// NewSitesHandler creates a new SitesHandler.
func NewSitesHandler(st *store.Store, q *quota.Service, rec *activity.Recorder) *SitesHandler {
	return &SitesHandler{store: st, quota: q, activity: rec}
}

// SiteResponse is a site representation for operator API responses.
type SiteResponse struct {
	ID                uint                   `json:"id"`
	UUID              string                 `json:"uuid"`
	NodeID            uint                   `json:"node_id"`
	NodeHostname      string                 `json:"node_hostname,omitempty"`
	Name              string                 `json:"name"`
	Path              string                 `json:"path,omitempty"`
	Timezone          string                 `json:"timezone"`
	ScheduleFrequency models.BackupFrequency `json:"schedule_frequency"`
	ScheduleTime      string                 `json:"schedule_time,omitempty"`
	ScheduleDays      string                 `json:"schedule_days,omitempty"`
	RetentionCopies   int                    `json:"retention_copies"`
	NextRunAt         *time.Time             `json:"next_run_at,omitempty"`
	StorageQuotaBytes int64                  `json:"storage_quota_bytes"`
	StorageUsedBytes  int64                  `json:"storage_used_bytes"`
	IsActive          bool                   `json:"is_active"`
	CreatedAt         time.Time              `json:"created_at"`
}

func siteToResponse(s *models.Site) SiteResponse {
	resp := SiteResponse{
		ID:                s.ID,
		UUID:              s.UUID,
		NodeID:            s.NodeID,
		Name:              s.Name,
		Path:              s.Path,
		Timezone:          s.Timezone,
		ScheduleFrequency: s.ScheduleFrequency,
		ScheduleTime:      s.ScheduleTime,
		ScheduleDays:      s.ScheduleDays,
		RetentionCopies:   s.RetentionCopies,
		NextRunAt:         s.NextRunAt,
		StorageQuotaBytes: s.StorageQuotaBytes,
		StorageUsedBytes:  s.StorageUsedBytes,
		IsActive:          s.IsActive,
		CreatedAt:         s.CreatedAt,
	}
	if s.Node != nil {
		resp.NodeHostname = s.Node.Hostname
	}
	return resp
}

// List handles GET /api/v1/sites.
func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}

	sites, err := h.store.ListSitesForUser(r.Context(), user)
	if err != nil {
		api.InternalServerError(w, "Failed to list sites")
		return
	}

	out := make([]SiteResponse, 0, len(sites))
	for _, s := range sites {
		out = append(out, siteToResponse(s))
	}
	api.WriteJSONOK(w, out)
}

// Get handles GET /api/v1/sites/{id}.
func (h *SitesHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	site := siteForUser(w, r, h.store, user, id)
	if site == nil {
		return
	}
	api.WriteJSONOK(w, siteToResponse(site))
}

// SetQuota handles PUT /api/v1/sites/{id}/quota?quota_gb=. The store
// rejects quotas that would over-commit the node's budget.
func (h *SitesHandler) SetQuota(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	site := siteForUser(w, r, h.store, user, id)
	if site == nil {
		return
	}
	quotaBytes, ok := quotaGBParam(w, r)
	if !ok {
		return
	}

	if err := h.store.SetSiteQuota(r.Context(), id, quotaBytes); err != nil {
		switch {
		case errors.Is(err, models.ErrSiteNotFound):
			api.NotFound(w, "Site not found")
		case errors.Is(err, models.ErrQuotaOverCommits):
			api.Conflict(w, "Site quotas would exceed the node's storage quota")
		default:
			api.InternalServerError(w, "Failed to set site quota")
		}
		return
	}

	h.activity.RecordRequest(r, user, activity.ActionSiteQuota, "site", site.Name,
		map[string]any{"quota_bytes": quotaBytes})

	site, err := h.store.GetSite(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to load site")
		return
	}
	api.WriteJSONOK(w, siteToResponse(site))
}

// QuotaCheck handles GET /api/v1/sites/{id}/quota/check?estimated_bytes=.
// Returns the admission verdict without reserving anything.
func (h *SitesHandler) QuotaCheck(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	if site := siteForUser(w, r, h.store, user, id); site == nil {
		return
	}

	var hint int64
	if raw := r.URL.Query().Get("estimated_bytes"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			api.BadRequest(w, "Invalid estimated_bytes")
			return
		}
		hint = v
	}

	verdict, err := h.quota.Admit(r.Context(), id, hint)
	if err != nil {
		api.InternalServerError(w, "Failed to check quota")
		return
	}
	api.WriteJSONOK(w, verdict)
}

// ScheduleRequest is the request body for PUT /api/v1/sites/{id}/schedule.
type ScheduleRequest struct {
	Frequency       models.BackupFrequency `json:"frequency" validate:"required"`
	TimeOfDay       string                 `json:"time_of_day,omitempty" validate:"omitempty,len=5"`
	Days            string                 `json:"days,omitempty" validate:"omitempty,max=128"`
	RetentionCopies int                    `json:"retention_copies,omitempty" validate:"omitempty,min=1,max=365"`
}

// Schedule handles PUT /api/v1/sites/{id}/schedule.
func (h *SitesHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	site := siteForUser(w, r, h.store, user, id)
	if site == nil {
		return
	}

	var req ScheduleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	retention := req.RetentionCopies
	if retention == 0 {
		retention = site.RetentionCopies
	}

	// Compute the next run against the updated schedule so operators see
	// it immediately; the agent recomputes after every run.
	preview := *site
	preview.ScheduleFrequency = req.Frequency
	preview.ScheduleTime = req.TimeOfDay
	preview.ScheduleDays = req.Days
	nextRun := preview.NextScheduledRun(time.Now())

	err := h.store.UpdateSiteSchedule(r.Context(), id, req.Frequency, req.TimeOfDay, req.Days, retention, nextRun)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidFrequency):
			api.BadRequest(w, "Invalid schedule frequency")
		case errors.Is(err, models.ErrSiteNotFound):
			api.NotFound(w, "Site not found")
		default:
			api.InternalServerError(w, "Failed to update schedule")
		}
		return
	}

	h.activity.RecordRequest(r, user, activity.ActionSiteSchedule, "site", site.Name,
		map[string]any{"frequency": req.Frequency, "time_of_day": req.TimeOfDay, "days": req.Days})

	site, err = h.store.GetSite(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to load site")
		return
	}
	api.WriteJSONOK(w, siteToResponse(site))
}
