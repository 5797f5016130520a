package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/progress"
	"github.com/wpfleet/wpfleet/internal/master/quota"
	"github.com/wpfleet/wpfleet/internal/master/retention"
	"github.com/wpfleet/wpfleet/internal/master/settings"
	"github.com/wpfleet/wpfleet/internal/seal"
	"github.com/wpfleet/wpfleet/pkg/api/middleware"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// DaemonHandler handles the agent-facing API surface: storage config,
// heartbeats, site sync, quota pre-flight and progress reporting.
type DaemonHandler struct {
	store     *store.Store
	progress  *progress.Service
	quota     *quota.Service
	settings  *settings.Service
	retention *retention.Worker
	sealer    *seal.Sealer
}

// NewDaemonHandler creates a new DaemonHandler.
func NewDaemonHandler(st *store.Store, ps *progress.Service, q *quota.Service, set *settings.Service, ret *retention.Worker, sealer *seal.Sealer) *DaemonHandler {
	return &DaemonHandler{store: st, progress: ps, quota: q, settings: set, retention: ret, sealer: sealer}
}

// authedNode pulls the node placed in the context by NodeAPIKeyAuth.
func authedNode(w http.ResponseWriter, r *http.Request) *models.Node {
	node := middleware.GetNodeFromContext(r.Context())
	if node == nil {
		api.Unauthorized(w, "Node authentication required")
		return nil
	}
	return node
}

// siteOnNode loads a site and verifies it belongs to the calling node.
// Foreign site ids read as 404.
func (h *DaemonHandler) siteOnNode(w http.ResponseWriter, r *http.Request, node *models.Node, siteID uint) *models.Site {
	site, err := h.store.GetSite(r.Context(), siteID)
	if err != nil || site.NodeID != node.ID {
		api.NotFound(w, "Site not found")
		return nil
	}
	return site
}

// StorageConfigResponse carries the default provider's credentials,
// unsealed, plus the node's tiered upload limit. Returned only over the
// API-key channel and never persisted on the agent beyond its config.
type StorageConfigResponse struct {
	// NodeUUID is echoed so the agent can build object keys without a
	// separate identity call.
	NodeUUID       string `json:"node_uuid"`
	Provider       string `json:"provider"`
	Type           string `json:"type"`
	Endpoint       string `json:"endpoint,omitempty"`
	Region         string `json:"region,omitempty"`
	Bucket         string `json:"bucket"`
	ForcePathStyle bool   `json:"force_path_style"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`

	// UploadBandwidthLimit is bytes/second; zero means unlimited.
	UploadBandwidthLimit int64 `json:"upload_bandwidth_limit"`
}

// StorageConfig handles GET /api/v1/daemon/storage-config.
func (h *DaemonHandler) StorageConfig(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	provider, err := h.store.GetDefaultProvider(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrNoDefaultProvider) {
			api.NotFound(w, "No default storage provider configured")
			return
		}
		api.InternalServerError(w, "Failed to load storage provider")
		return
	}

	accessKey, err := h.sealer.Unseal(provider.AccessKeySealed)
	if err != nil {
		logger.Error("Failed to unseal provider credentials", "provider", provider.Name, "error", err)
		api.InternalServerError(w, "Failed to prepare storage credentials")
		return
	}
	secretKey, err := h.sealer.Unseal(provider.SecretKeySealed)
	if err != nil {
		logger.Error("Failed to unseal provider credentials", "provider", provider.Name, "error", err)
		api.InternalServerError(w, "Failed to prepare storage credentials")
		return
	}

	limit, err := h.settings.BandwidthLimit(r.Context(), &node.ID)
	if err != nil {
		limit = 0
	}

	api.WriteJSONOK(w, StorageConfigResponse{
		NodeUUID:             node.UUID,
		Provider:             provider.Name,
		Type:                 string(provider.Type),
		Endpoint:             provider.Endpoint,
		Region:               provider.Region,
		Bucket:               provider.Bucket,
		ForcePathStyle:       provider.ForcePathStyle,
		AccessKey:            accessKey,
		SecretKey:            secretKey,
		UploadBandwidthLimit: limit,
	})
}

// HeartbeatRequest is the request body for POST /api/v1/daemon/heartbeat.
type HeartbeatRequest struct {
	Hostname     string  `json:"hostname,omitempty"`
	Address      string  `json:"address,omitempty"`
	AgentVersion string  `json:"agent_version,omitempty"`
	SiteCount    int     `json:"site_count"`
	DiskTotal    int64   `json:"disk_total"`
	DiskFree     int64   `json:"disk_free"`
	Load1m       float64 `json:"load_1m"`
}

// Heartbeat handles POST /api/v1/daemon/heartbeat.
func (h *DaemonHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	var req HeartbeatRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	err := h.store.Heartbeat(r.Context(), node.ID, req.Address, req.AgentVersion, req.DiskTotal, req.DiskFree)
	if err != nil {
		api.InternalServerError(w, "Failed to record heartbeat")
		return
	}
	api.WriteJSONOK(w, map[string]any{"status": "ok"})
}

// DiscoveredSite is one site found by the agent's scanner.
type DiscoveredSite struct {
	Name          string `json:"name" validate:"required,max=255"`
	Path          string `json:"path" validate:"required,max=1024"`
	WPConfigPath  string `json:"wp_config_path,omitempty"`
	WPContentPath string `json:"wp_content_path,omitempty"`
}

// SyncSitesRequest is the request body for POST /api/v1/daemon/sites/sync.
type SyncSitesRequest struct {
	Sites []DiscoveredSite `json:"sites" validate:"dive"`
}

// SyncSites handles POST /api/v1/daemon/sites/sync. Discovery facts are
// upserted; operator-managed fields (quota, schedule) survive the sync.
func (h *DaemonHandler) SyncSites(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	var req SyncSitesRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	discovered := make([]*models.Site, 0, len(req.Sites))
	for _, d := range req.Sites {
		discovered = append(discovered, &models.Site{
			NodeID:        node.ID,
			Name:          d.Name,
			Path:          d.Path,
			WPConfigPath:  d.WPConfigPath,
			WPContentPath: d.WPContentPath,
		})
	}

	sites, err := h.store.SyncDiscoveredSites(r.Context(), node.ID, discovered)
	if err != nil {
		api.InternalServerError(w, "Failed to sync sites")
		return
	}

	out := make([]SiteResponse, 0, len(sites))
	for _, s := range sites {
		out = append(out, siteToResponse(s))
	}
	api.WriteJSONOK(w, out)
}

// Sites handles GET /api/v1/daemon/sites: the node's sites with their
// schedules, for the agent's scheduler.
func (h *DaemonHandler) Sites(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	sites, err := h.store.ListSitesForNode(r.Context(), node.ID)
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

// PreflightRequest is the request body for POST /api/v1/daemon/quota/preflight.
type PreflightRequest struct {
	SiteID         uint  `json:"site_id" validate:"required"`
	EstimatedBytes int64 `json:"estimated_bytes" validate:"omitempty,min=0"`
}

// Preflight handles POST /api/v1/daemon/quota/preflight. A denial is
// 507 with the verdict so the agent can report the exceeded bound.
func (h *DaemonHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	var req PreflightRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if h.siteOnNode(w, r, node, req.SiteID) == nil {
		return
	}

	verdict, err := h.quota.Admit(r.Context(), req.SiteID, req.EstimatedBytes)
	if err != nil {
		api.InternalServerError(w, "Failed to check quota")
		return
	}
	if !verdict.Allowed {
		api.WriteJSON(w, http.StatusInsufficientStorage, verdict)
		return
	}
	api.WriteJSONOK(w, verdict)
}

// PendingJob is one operator-started job waiting for the agent.
type PendingJob struct {
	SiteID uint  `json:"site_id"`
	Epoch  int64 `json:"epoch"`
}

// PendingBackups handles GET /api/v1/daemon/backup/pending: jobs an
// operator started that the agent has not begun work on.
func (h *DaemonHandler) PendingBackups(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	rows, err := h.progress.Pending(r.Context(), node.ID)
	if err != nil {
		api.InternalServerError(w, "Failed to list pending backups")
		return
	}

	out := make([]PendingJob, 0, len(rows))
	for _, row := range rows {
		out = append(out, PendingJob{SiteID: row.SiteID, Epoch: row.Epoch})
	}
	api.WriteJSONOK(w, out)
}

// StartBackup handles POST /api/v1/daemon/backup/start/{site_id}.
// Scheduled runs obtain their fencing epoch here; operator-initiated
// runs get theirs from the operator start route. A running job answers
// 409 either way.
func (h *DaemonHandler) StartBackup(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}
	siteID, ok := uintParam(w, r, "site_id")
	if !ok {
		return
	}
	if h.siteOnNode(w, r, node, siteID) == nil {
		return
	}

	epoch, err := h.progress.Start(r.Context(), siteID)
	if err != nil {
		if errors.Is(err, models.ErrBackupRunning) {
			api.Conflict(w, "A backup is already running for this site")
			return
		}
		api.InternalServerError(w, "Failed to start backup")
		return
	}
	api.WriteJSONOK(w, map[string]any{"epoch": epoch})
}

// ProgressUpdateRequest is the request body for the progress PUT. Epoch
// is the fencing token handed out when the job started.
type ProgressUpdateRequest struct {
	Epoch          int64                `json:"epoch" validate:"required"`
	State          models.ProgressState `json:"state" validate:"required"`
	Percent        int                  `json:"percent" validate:"min=0,max=100"`
	Stage          string               `json:"stage,omitempty"`
	Message        string               `json:"message,omitempty"`
	BytesProcessed int64                `json:"bytes_processed,omitempty"`
	BytesTotal     int64                `json:"bytes_total,omitempty"`
	Error          *string              `json:"error,omitempty"`
}

// UpdateProgress handles PUT /api/v1/daemon/backup/progress/{site_id}.
// The response echoes the row plus the cancellation flag, so every
// progress write doubles as a cancellation poll.
func (h *DaemonHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}
	siteID, ok := uintParam(w, r, "site_id")
	if !ok {
		return
	}
	if h.siteOnNode(w, r, node, siteID) == nil {
		return
	}

	var req ProgressUpdateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !req.State.IsValid() {
		api.BadRequest(w, "Invalid progress state")
		return
	}

	row, err := h.progress.Update(r.Context(), siteID, req.Epoch, &models.BackupProgress{
		State:          req.State,
		Percent:        req.Percent,
		Stage:          req.Stage,
		Message:        req.Message,
		BytesProcessed: req.BytesProcessed,
		BytesTotal:     req.BytesTotal,
		Error:          req.Error,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrStaleEpoch):
			api.Conflict(w, "Progress write from a stale epoch")
		case errors.Is(err, models.ErrProgressNotFound):
			api.NotFound(w, "No progress row for this site")
		default:
			api.InternalServerError(w, "Failed to update progress")
		}
		return
	}
	api.WriteJSONOK(w, row)
}

// ReportRequest is the post-flight report for a finished job.
type ReportRequest struct {
	SiteID     uint   `json:"site_id" validate:"required"`
	Success    bool   `json:"success"`
	Filename   string `json:"filename" validate:"required,max=512"`
	SizeBytes  int64  `json:"size_bytes" validate:"min=0"`
	ObjectKey  string `json:"object_key,omitempty"`
	ProviderID *uint  `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// Report handles POST /api/v1/daemon/backup/report: the transactional
// accounting write for a finished job, followed by a retention pass so
// excess copies get their deletion scheduled immediately.
func (h *DaemonHandler) Report(w http.ResponseWriter, r *http.Request) {
	node := authedNode(w, r)
	if node == nil {
		return
	}

	var req ReportRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if h.siteOnNode(w, r, node, req.SiteID) == nil {
		return
	}

	backup := &models.Backup{
		SiteID:       req.SiteID,
		Filename:     req.Filename,
		SizeBytes:    req.SizeBytes,
		ObjectKey:    req.ObjectKey,
		ProviderID:   req.ProviderID,
		ErrorMessage: req.Error,
	}

	// Agents upload to whatever provider their storage config named;
	// attribute the record to the current default when they don't say.
	if backup.ProviderID == nil && req.Success {
		if provider, err := h.store.GetDefaultProvider(r.Context()); err == nil {
			backup.ProviderID = &provider.ID
		}
	}

	var err error
	if req.Success {
		backup.Status = models.BackupSuccess
		err = h.store.RecordBackupSuccess(r.Context(), backup)
	} else {
		err = h.store.RecordBackupFailure(r.Context(), backup)
	}
	if err != nil {
		api.InternalServerError(w, "Failed to record backup")
		return
	}

	if req.Success {
		if _, err := h.retention.Apply(r.Context(), req.SiteID); err != nil {
			logger.Error("Retention pass after report failed", "site_id", req.SiteID, "error", err)
		}
	}
	api.WriteJSONCreated(w, backupToResponse(backup))
}

// ResetProgress handles POST /api/v1/daemon/backup/reset/{site_id}.
// Also exposed to operators for un-sticking a crashed job's row.
func (h *DaemonHandler) ResetProgress(w http.ResponseWriter, r *http.Request) {
	siteID, ok := uintParam(w, r, "site_id")
	if !ok {
		return
	}

	// Either principal may reset: the owning node, or a node_admin+.
	if node := middleware.GetNodeFromContext(r.Context()); node != nil {
		if h.siteOnNode(w, r, node, siteID) == nil {
			return
		}
	} else {
		user := currentUser(w, r, h.store)
		if user == nil {
			return
		}
		if user.Role == models.RoleSiteAdmin {
			api.Forbidden(w, "Insufficient role")
			return
		}
		if siteForUser(w, r, h.store, user, siteID) == nil {
			return
		}
	}

	force := r.URL.Query().Get("force") == "true"
	if err := h.progress.Reset(r.Context(), siteID, force); err != nil {
		switch {
		case errors.Is(err, models.ErrBackupRunning):
			api.Conflict(w, "A backup is running; pass force=true to reset anyway")
		case errors.Is(err, models.ErrProgressNotFound):
			api.NotFound(w, "No progress row for this site")
		default:
			api.InternalServerError(w, "Failed to reset progress")
		}
		return
	}
	api.WriteJSONOK(w, map[string]any{"status": "reset"})
}
