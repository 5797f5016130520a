package apiclient

import (
	"context"
	"fmt"
	"time"
)

// Node is a managed node as reported by the master.
type Node struct {
	ID                   uint       `json:"id"`
	UUID                 string     `json:"uuid"`
	Hostname             string     `json:"hostname"`
	Address              string     `json:"address,omitempty"`
	Status               string     `json:"status"`
	StorageQuotaBytes    int64      `json:"storage_quota_bytes"`
	StorageUsedBytes     int64      `json:"storage_used_bytes"`
	MaxRetentionCopies   *int       `json:"max_retention_copies,omitempty"`
	MaxConcurrentBackups int        `json:"max_concurrent_backups"`
	AgentVersion         string     `json:"agent_version,omitempty"`
	DiskTotal            int64      `json:"disk_total,omitempty"`
	DiskFree             int64      `json:"disk_free,omitempty"`
	SiteCount            int        `json:"site_count"`
	CreatedAt            time.Time  `json:"created_at"`
	ApprovedAt           *time.Time `json:"approved_at,omitempty"`
	LastSeenAt           *time.Time `json:"last_seen_at,omitempty"`
}

// Site is a managed WordPress site as reported by the master.
type Site struct {
	ID                uint       `json:"id"`
	UUID              string     `json:"uuid"`
	NodeID            uint       `json:"node_id"`
	NodeHostname      string     `json:"node_hostname,omitempty"`
	Name              string     `json:"name"`
	Path              string     `json:"path,omitempty"`
	Timezone          string     `json:"timezone"`
	ScheduleFrequency string     `json:"schedule_frequency"`
	ScheduleTime      string     `json:"schedule_time,omitempty"`
	ScheduleDays      string     `json:"schedule_days,omitempty"`
	RetentionCopies   int        `json:"retention_copies"`
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	StorageQuotaBytes int64      `json:"storage_quota_bytes"`
	StorageUsedBytes  int64      `json:"storage_used_bytes"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Backup is a backup record as reported by the master.
type Backup struct {
	ID                uint       `json:"id"`
	UUID              string     `json:"uuid"`
	SiteID            uint       `json:"site_id"`
	SiteName          string     `json:"site_name,omitempty"`
	Filename          string     `json:"filename"`
	SizeBytes         int64      `json:"size_bytes"`
	Status            string     `json:"status"`
	BackupType        string     `json:"backup_type"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ProviderName      string     `json:"provider_name,omitempty"`
	ScheduledDeletion *time.Time `json:"scheduled_deletion,omitempty"`
	DaysUntilDeletion *int       `json:"days_until_deletion,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Progress is a site's live backup progress row.
type Progress struct {
	SiteID          uint       `json:"site_id"`
	Epoch           int64      `json:"epoch"`
	State           string     `json:"state"`
	Percent         int        `json:"percent"`
	Stage           string     `json:"stage,omitempty"`
	Message         string     `json:"message,omitempty"`
	BytesProcessed  int64      `json:"bytes_processed"`
	BytesTotal      int64      `json:"bytes_total"`
	Error           *string    `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// QuotaVerdict is a pre-flight admission result.
type QuotaVerdict struct {
	Allowed            bool   `json:"allowed"`
	EstimateBytes      int64  `json:"estimate_bytes"`
	ProjectedSiteBytes int64  `json:"projected_site_bytes"`
	ProjectedNodeBytes int64  `json:"projected_node_bytes"`
	SiteQuotaBytes     int64  `json:"site_quota_bytes"`
	NodeQuotaBytes     int64  `json:"node_quota_bytes"`
	ExceededBound      string `json:"exceeded_bound,omitempty"`
}

// ListNodes returns the nodes visible to the caller.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	return listResources[Node](ctx, c, "/api/v1/nodes")
}

// GetNode returns one node.
func (c *Client) GetNode(ctx context.Context, id uint) (*Node, error) {
	return getResource[Node](ctx, c, fmt.Sprintf("/api/v1/nodes/%d", id))
}

// ApproveNode approves a pending join request.
func (c *Client) ApproveNode(ctx context.Context, id uint) (*Node, error) {
	return createResource[Node](ctx, c, fmt.Sprintf("/api/v1/nodes/approve/%d", id), nil)
}

// BlockNode bars a node from the API.
func (c *Client) BlockNode(ctx context.Context, id uint) (*Node, error) {
	return createResource[Node](ctx, c, fmt.Sprintf("/api/v1/nodes/%d/block", id), nil)
}

// UnblockNode reinstates a blocked node.
func (c *Client) UnblockNode(ctx context.Context, id uint) (*Node, error) {
	return createResource[Node](ctx, c, fmt.Sprintf("/api/v1/nodes/%d/unblock", id), nil)
}

// SetNodeQuota sets a node's storage quota in whole or fractional GB.
func (c *Client) SetNodeQuota(ctx context.Context, id uint, quotaGB float64) (*Node, error) {
	return updateResource[Node](ctx, c, fmt.Sprintf("/api/v1/nodes/%d/quota?quota_gb=%g", id, quotaGB), nil)
}

// ListSites returns the sites visible to the caller.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	return listResources[Site](ctx, c, "/api/v1/sites")
}

// GetSite returns one site.
func (c *Client) GetSite(ctx context.Context, id uint) (*Site, error) {
	return getResource[Site](ctx, c, fmt.Sprintf("/api/v1/sites/%d", id))
}

// SetSiteQuota sets a site's storage quota in GB.
func (c *Client) SetSiteQuota(ctx context.Context, id uint, quotaGB float64) (*Site, error) {
	return updateResource[Site](ctx, c, fmt.Sprintf("/api/v1/sites/%d/quota?quota_gb=%g", id, quotaGB), nil)
}

// CheckSiteQuota runs the admission check without starting anything.
func (c *Client) CheckSiteQuota(ctx context.Context, id uint, estimatedBytes int64) (*QuotaVerdict, error) {
	path := fmt.Sprintf("/api/v1/sites/%d/quota/check", id)
	if estimatedBytes > 0 {
		path = fmt.Sprintf("%s?estimated_bytes=%d", path, estimatedBytes)
	}
	return getResource[QuotaVerdict](ctx, c, path)
}

// ScheduleRequest configures a site's backup schedule.
type ScheduleRequest struct {
	Frequency       string `json:"frequency"`
	TimeOfDay       string `json:"time_of_day,omitempty"`
	Days            string `json:"days,omitempty"`
	RetentionCopies int    `json:"retention_copies,omitempty"`
}

// SetSchedule updates a site's backup schedule.
func (c *Client) SetSchedule(ctx context.Context, id uint, req ScheduleRequest) (*Site, error) {
	return updateResource[Site](ctx, c, fmt.Sprintf("/api/v1/sites/%d/schedule", id), req)
}

// StartBackup starts a manual backup for a site.
func (c *Client) StartBackup(ctx context.Context, siteID uint) (*Progress, error) {
	var resp struct {
		Epoch    int64    `json:"epoch"`
		Progress Progress `json:"progress"`
	}
	if err := c.post(ctx, fmt.Sprintf("/api/v1/sites/%d/backup/start", siteID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Progress, nil
}

// BackupStatus returns a site's live progress row.
func (c *Client) BackupStatus(ctx context.Context, siteID uint) (*Progress, error) {
	return getResource[Progress](ctx, c, fmt.Sprintf("/api/v1/sites/%d/backup/status", siteID))
}

// StopBackup requests cooperative cancellation of a running backup.
func (c *Client) StopBackup(ctx context.Context, siteID uint) (bool, error) {
	var resp struct {
		CancelRequested bool `json:"cancel_requested"`
	}
	err := c.post(ctx, fmt.Sprintf("/api/v1/sites/%d/backup/stop", siteID), nil, &resp)
	return resp.CancelRequested, err
}

// BackupPage is one page of a site's backup history.
type BackupPage struct {
	Backups []Backup `json:"backups"`
	Total   int64    `json:"total"`
	Offset  int      `json:"offset"`
}

// ListBackups returns a page of a site's backups, newest first.
func (c *Client) ListBackups(ctx context.Context, siteID uint, offset, limit int) (*BackupPage, error) {
	path := fmt.Sprintf("/api/v1/sites/%d/backups?offset=%d&limit=%d", siteID, offset, limit)
	return getResource[BackupPage](ctx, c, path)
}

// GetBackup returns one backup record.
func (c *Client) GetBackup(ctx context.Context, id uint) (*Backup, error) {
	return getResource[Backup](ctx, c, fmt.Sprintf("/api/v1/backups/%d", id))
}

// DeleteBackup removes a backup record, optionally the remote object too.
func (c *Client) DeleteBackup(ctx context.Context, id uint, deleteRemote bool) error {
	return c.delete(ctx, fmt.Sprintf("/api/v1/backups/%d?delete_remote=%t", id, deleteRemote), nil)
}

// ListScheduledDeletions returns backups awaiting retention deletion.
func (c *Client) ListScheduledDeletions(ctx context.Context) ([]Backup, error) {
	return listResources[Backup](ctx, c, "/api/v1/backups/scheduled-deletions")
}

// CancelDeletion rescinds a backup's scheduled deletion.
func (c *Client) CancelDeletion(ctx context.Context, id uint) error {
	return c.delete(ctx, fmt.Sprintf("/api/v1/backups/%d/cancel-deletion", id), nil)
}

// DownloadInfo is the presigned download envelope for a backup.
type DownloadInfo struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	ExpiresIn int    `json:"expires_in"`
}

// DownloadBackup returns a presigned URL for a backup archive.
func (c *Client) DownloadBackup(ctx context.Context, id uint) (*DownloadInfo, error) {
	return getResource[DownloadInfo](ctx, c, fmt.Sprintf("/api/v1/backups/%d/download", id))
}

// ReconcileReport mirrors the master's reconciliation report.
type ReconcileReport struct {
	DryRun    bool `json:"dry_run"`
	Providers []struct {
		ProviderID  uint     `json:"provider_id"`
		Provider    string   `json:"provider"`
		ObjectCount int      `json:"object_count"`
		Orphans     []string `json:"orphans,omitempty"`
		Error       string   `json:"error,omitempty"`
	} `json:"providers"`
}

// Reconcile audits remote storage against the database.
func (c *Client) Reconcile(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	return createResource[ReconcileReport](ctx, c, fmt.Sprintf("/api/v1/storage/reconcile?dry_run=%t", dryRun), nil)
}

// ActivityEntry is one audit-trail line.
type ActivityEntry struct {
	ID         uint      `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListActivity returns the caller's audit trail; super admins may pass
// a different user id, zero means self.
func (c *Client) ListActivity(ctx context.Context, userID uint, limit int) ([]ActivityEntry, error) {
	path := fmt.Sprintf("/api/v1/activity?limit=%d", limit)
	if userID != 0 {
		path = fmt.Sprintf("%s&user_id=%d", path, userID)
	}
	return listResources[ActivityEntry](ctx, c, path)
}
