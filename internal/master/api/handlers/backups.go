package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/activity"
	"github.com/wpfleet/wpfleet/internal/master/progress"
	"github.com/wpfleet/wpfleet/internal/master/quota"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/objstore"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// BlobClient is the slice of the object store the backup endpoints
// need: removing archives and presigning downloads.
type BlobClient interface {
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (string, error)
}

// BlobClientFactory builds a blob client for a provider record.
type BlobClientFactory func(ctx context.Context, provider *models.StorageProvider) (BlobClient, error)

// BackupsHandler handles the backup lifecycle endpoints: start, status,
// stop, listing, deletion and download.
type BackupsHandler struct {
	store    *store.Store
	progress *progress.Service
	quota    *quota.Service
	activity *activity.Recorder
	clients  BlobClientFactory
}

// NewBackupsHandler creates a new BackupsHandler.
func NewBackupsHandler(st *store.Store, ps *progress.Service, q *quota.Service, rec *activity.Recorder, clients BlobClientFactory) *BackupsHandler {
	return &BackupsHandler{store: st, progress: ps, quota: q, activity: rec, clients: clients}
}

// Start handles POST /api/v1/sites/{id}/backup/start. A running job
// conflicts; a quota denial is 507 with the verdict attached.
func (h *BackupsHandler) Start(w http.ResponseWriter, r *http.Request) {
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

	verdict, err := h.quota.Admit(r.Context(), id, 0)
	if err != nil {
		api.InternalServerError(w, "Failed to check quota")
		return
	}
	if !verdict.Allowed {
		api.InsufficientStorage(w, fmt.Sprintf("Projected backup exceeds the %s storage quota", verdict.ExceededBound))
		return
	}

	epoch, err := h.progress.Start(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrBackupRunning) {
			api.Conflict(w, "A backup is already running for this site")
			return
		}
		api.InternalServerError(w, "Failed to start backup")
		return
	}

	h.activity.RecordRequest(r, user, activity.ActionBackupStart, "site", site.Name, nil)

	row, err := h.progress.Get(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to load progress")
		return
	}
	api.WriteJSON(w, http.StatusAccepted, map[string]any{
		"epoch":    epoch,
		"progress": row,
	})
}

// Status handles GET /api/v1/sites/{id}/backup/status.
func (h *BackupsHandler) Status(w http.ResponseWriter, r *http.Request) {
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

	row, err := h.progress.Get(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to load progress")
		return
	}
	api.WriteJSONOK(w, row)
}

// Stop handles POST /api/v1/sites/{id}/backup/stop. Cancellation is
// cooperative: the flag is raised here and the agent honors it at the
// next checkpoint.
func (h *BackupsHandler) Stop(w http.ResponseWriter, r *http.Request) {
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

	requested, err := h.progress.RequestCancel(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to request cancellation")
		return
	}
	if requested {
		h.activity.RecordRequest(r, user, activity.ActionBackupCancel, "site", site.Name, nil)
	}
	api.WriteJSONOK(w, map[string]any{"cancel_requested": requested})
}

// BackupResponse is a backup record for API responses.
type BackupResponse struct {
	ID                uint                `json:"id"`
	UUID              string              `json:"uuid"`
	SiteID            uint                `json:"site_id"`
	SiteName          string              `json:"site_name,omitempty"`
	Filename          string              `json:"filename"`
	SizeBytes         int64               `json:"size_bytes"`
	Status            models.BackupStatus `json:"status"`
	BackupType        string              `json:"backup_type"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	ProviderName      string              `json:"provider_name,omitempty"`
	ScheduledDeletion *time.Time          `json:"scheduled_deletion,omitempty"`
	DaysUntilDeletion *int                `json:"days_until_deletion,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func backupToResponse(b *models.Backup) BackupResponse {
	resp := BackupResponse{
		ID:                b.ID,
		UUID:              b.UUID,
		SiteID:            b.SiteID,
		Filename:          b.Filename,
		SizeBytes:         b.SizeBytes,
		Status:            b.Status,
		BackupType:        b.BackupType,
		ErrorMessage:      b.ErrorMessage,
		ScheduledDeletion: b.ScheduledDeletion,
		CreatedAt:         b.CreatedAt,
	}
	if b.Site != nil {
		resp.SiteName = b.Site.Name
	}
	if b.Provider != nil {
		resp.ProviderName = b.Provider.Name
	}
	if b.ScheduledDeletion != nil {
		days := int(time.Until(*b.ScheduledDeletion).Hours() / 24)
		if days < 0 {
			days = 0
		}
		resp.DaysUntilDeletion = &days
	}
	return resp
}

// ListForSite handles GET /api/v1/sites/{id}/backups?offset=&limit=.
func (h *BackupsHandler) ListForSite(w http.ResponseWriter, r *http.Request) {
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

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if offset < 0 {
		offset = 0
	}

	backups, total, err := h.store.ListBackupsForSite(r.Context(), id, offset, limit)
	if err != nil {
		api.InternalServerError(w, "Failed to list backups")
		return
	}

	out := make([]BackupResponse, 0, len(backups))
	for _, b := range backups {
		out = append(out, backupToResponse(b))
	}
	api.WriteJSONOK(w, map[string]any{
		"backups": out,
		"total":   total,
		"offset":  offset,
	})
}

// Get handles GET /api/v1/backups/{id}.
func (h *BackupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	backup, _ := h.backupForUser(w, r)
	if backup == nil {
		return
	}
	api.WriteJSONOK(w, backupToResponse(backup))
}

// Delete handles DELETE /api/v1/backups/{id}?delete_remote=. With
// delete_remote the blob goes first; if that fails the record stays so
// the deletion can be retried.
func (h *BackupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	backup, user := h.backupForUser(w, r)
	if backup == nil {
		return
	}
	if backup.Status == models.BackupDeleted {
		api.Conflict(w, "Backup is already deleted")
		return
	}

	deleteRemote := r.URL.Query().Get("delete_remote") == "true"
	if deleteRemote && backup.ObjectKey != "" && backup.Provider != nil {
		client, err := h.clients(r.Context(), backup.Provider)
		if err != nil {
			api.InternalServerError(w, "Failed to reach storage provider")
			return
		}
		if err := client.Delete(r.Context(), backup.ObjectKey); err != nil {
			logger.Error("Failed to delete remote object", "key", backup.ObjectKey, "error", err)
			api.InternalServerError(w, "Failed to delete remote object")
			return
		}
	}

	if err := h.store.MarkBackupDeleted(r.Context(), backup.ID); err != nil {
		api.InternalServerError(w, "Failed to delete backup record")
		return
	}

	h.activity.RecordRequest(r, user, activity.ActionBackupDelete, "backup", backup.Filename,
		map[string]any{"delete_remote": deleteRemote})
	api.WriteNoContent(w)
}

// ScheduledDeletions handles GET /api/v1/backups/scheduled-deletions.
// RBAC-filtered to the caller's sites.
func (h *BackupsHandler) ScheduledDeletions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}

	backups, err := h.store.ListScheduledDeletions(r.Context())
	if err != nil {
		api.InternalServerError(w, "Failed to list scheduled deletions")
		return
	}

	out := make([]BackupResponse, 0, len(backups))
	for _, b := range backups {
		ok, err := h.store.UserCanAccessSite(r.Context(), user, b.SiteID)
		if err != nil {
			api.InternalServerError(w, "Failed to check site access")
			return
		}
		if ok {
			out = append(out, backupToResponse(b))
		}
	}
	api.WriteJSONOK(w, out)
}

// CancelDeletion handles DELETE /api/v1/backups/{id}/cancel-deletion.
func (h *BackupsHandler) CancelDeletion(w http.ResponseWriter, r *http.Request) {
	backup, user := h.backupForUser(w, r)
	if backup == nil {
		return
	}

	if err := h.store.CancelScheduledDeletion(r.Context(), backup.ID); err != nil {
		if errors.Is(err, models.ErrBackupNotFound) {
			api.NotFound(w, "No deletion is scheduled for this backup")
			return
		}
		api.InternalServerError(w, "Failed to cancel deletion")
		return
	}

	h.activity.RecordRequest(r, user, activity.ActionBackupDelete, "backup", backup.Filename,
		map[string]any{"cancelled": true})
	api.WriteNoContent(w)
}

// Download handles GET /api/v1/backups/{id}/download. The archive is
// never proxied through the master; the client gets a presigned URL.
func (h *BackupsHandler) Download(w http.ResponseWriter, r *http.Request) {
	backup, user := h.backupForUser(w, r)
	if backup == nil {
		return
	}
	if backup.Status != models.BackupSuccess || backup.ObjectKey == "" || backup.Provider == nil {
		api.Conflict(w, "Backup has no downloadable archive")
		return
	}

	client, err := h.clients(r.Context(), backup.Provider)
	if err != nil {
		api.InternalServerError(w, "Failed to reach storage provider")
		return
	}
	url, err := client.PresignGet(r.Context(), backup.ObjectKey)
	if err != nil {
		api.InternalServerError(w, "Failed to presign download")
		return
	}

	h.activity.RecordRequest(r, user, activity.ActionBackupRestore, "backup", backup.Filename, nil)
	api.WriteJSONOK(w, map[string]any{
		"url":        url,
		"filename":   backup.Filename,
		"size_bytes": backup.SizeBytes,
		"expires_in": int(objstore.PresignTTL.Seconds()),
	})
}

// backupForUser loads a backup and enforces the caller's site scope.
// Scope failures read as 404.
func (h *BackupsHandler) backupForUser(w http.ResponseWriter, r *http.Request) (*models.Backup, *models.User) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return nil, nil
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return nil, nil
	}

	backup, err := h.store.GetBackup(r.Context(), id)
	if err != nil {
		api.NotFound(w, "Backup not found")
		return nil, nil
	}
	ok, err = h.store.UserCanAccessSite(r.Context(), user, backup.SiteID)
	if err != nil {
		api.InternalServerError(w, "Failed to check site access")
		return nil, nil
	}
	if !ok {
		api.NotFound(w, "Backup not found")
		return nil, nil
	}
	return backup, user
}
