package apiclient

import (
	"context"
	"fmt"
	"time"
)

// Agent-facing calls. Everything here except enrollment requires a
// client built with WithAPIKey.

// JoinResult is the master's answer to a join request.
type JoinResult struct {
	RequestID        uint   `json:"request_id"`
	RegistrationCode string `json:"registration_code"`
}

// Join posts a join request and returns the registration code the
// operator approves by. No credential required.
func (c *Client) Join(ctx context.Context, hostname, address string) (*JoinResult, error) {
	req := map[string]string{"hostname": hostname}
	if address != "" {
		req["address"] = address
	}
	return createResource[JoinResult](ctx, c, "/api/v1/nodes/join-request", req)
}

// EnrollmentStatus is one status poll during enrollment. APIKey is set
// on exactly one poll per node; the agent must persist it immediately.
type EnrollmentStatus struct {
	Status string `json:"status"`
	APIKey string `json:"api_key,omitempty"`
}

// PollEnrollment checks a registration code's approval status. After
// the code is claimed the master answers 404; callers should treat
// that as "re-enroll" once a key was never received.
func (c *Client) PollEnrollment(ctx context.Context, code string) (*EnrollmentStatus, error) {
	return getResource[EnrollmentStatus](ctx, c, "/api/v1/nodes/status/code/"+code)
}

// StorageConfig is the unsealed default provider handed to the agent.
type StorageConfig struct {
	NodeUUID             string `json:"node_uuid"`
	Provider             string `json:"provider"`
	Type                 string `json:"type"`
	Endpoint             string `json:"endpoint,omitempty"`
	Region               string `json:"region,omitempty"`
	Bucket               string `json:"bucket"`
	ForcePathStyle       bool   `json:"force_path_style"`
	AccessKey            string `json:"access_key"`
	SecretKey            string `json:"secret_key"`
	UploadBandwidthLimit int64  `json:"upload_bandwidth_limit"`
}

// FetchStorageConfig returns the default provider's credentials and the
// node's upload bandwidth limit.
func (c *Client) FetchStorageConfig(ctx context.Context) (*StorageConfig, error) {
	return getResource[StorageConfig](ctx, c, "/api/v1/daemon/storage-config")
}

// Heartbeat is the agent's periodic liveness report.
type Heartbeat struct {
	Hostname     string  `json:"hostname,omitempty"`
	Address      string  `json:"address,omitempty"`
	AgentVersion string  `json:"agent_version,omitempty"`
	SiteCount    int     `json:"site_count"`
	DiskTotal    int64   `json:"disk_total"`
	DiskFree     int64   `json:"disk_free"`
	Load1m       float64 `json:"load_1m"`
}

// SendHeartbeat reports the node's vitals to the master.
func (c *Client) SendHeartbeat(ctx context.Context, hb Heartbeat) error {
	return c.post(ctx, "/api/v1/daemon/heartbeat", hb, nil)
}

// DiscoveredSite is one WordPress installation found by the scanner.
type DiscoveredSite struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	WPConfigPath  string `json:"wp_config_path,omitempty"`
	WPContentPath string `json:"wp_content_path,omitempty"`
}

// SyncSites reports the scanner's findings; the master upserts them and
// returns the authoritative site list with schedules attached.
func (c *Client) SyncSites(ctx context.Context, sites []DiscoveredSite) ([]Site, error) {
	var out []Site
	req := struct {
		Sites []DiscoveredSite `json:"sites"`
	}{Sites: sites}
	if err := c.post(ctx, "/api/v1/daemon/sites/sync", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NodeSites returns the calling node's sites with their schedules.
func (c *Client) NodeSites(ctx context.Context) ([]Site, error) {
	return listResources[Site](ctx, c, "/api/v1/daemon/sites")
}

// Preflight asks the master whether a backup of the estimated size may
// proceed. A quota denial comes back as an *APIError with
// IsQuotaExceeded true; use the returned verdict for the bound.
func (c *Client) Preflight(ctx context.Context, siteID uint, estimatedBytes int64) (*QuotaVerdict, error) {
	req := struct {
		SiteID         uint  `json:"site_id"`
		EstimatedBytes int64 `json:"estimated_bytes"`
	}{SiteID: siteID, EstimatedBytes: estimatedBytes}
	return createResource[QuotaVerdict](ctx, c, "/api/v1/daemon/quota/preflight", req)
}

// PendingJob is one operator-started job waiting for this node's agent
// to pick it up.
type PendingJob struct {
	SiteID uint  `json:"site_id"`
	Epoch  int64 `json:"epoch"`
}

// PendingBackups lists operator-started jobs no engine has begun.
func (c *Client) PendingBackups(ctx context.Context) ([]PendingJob, error) {
	return listResources[PendingJob](ctx, c, "/api/v1/daemon/backup/pending")
}

// ClaimBackup starts a scheduled backup job and returns the fencing
// epoch for its progress writes. A running job comes back as an
// *APIError with IsConflict true.
func (c *Client) ClaimBackup(ctx context.Context, siteID uint) (int64, error) {
	var out struct {
		Epoch int64 `json:"epoch"`
	}
	if err := c.post(ctx, fmt.Sprintf("/api/v1/daemon/backup/start/%d", siteID), nil, &out); err != nil {
		return 0, err
	}
	return out.Epoch, nil
}

// ProgressUpdate is one progress write from a running job.
type ProgressUpdate struct {
	Epoch          int64   `json:"epoch"`
	State          string  `json:"state"`
	Percent        int     `json:"percent"`
	Stage          string  `json:"stage,omitempty"`
	Message        string  `json:"message,omitempty"`
	BytesProcessed int64   `json:"bytes_processed,omitempty"`
	BytesTotal     int64   `json:"bytes_total,omitempty"`
	Error          *string `json:"error,omitempty"`
}

// PushProgress writes a progress update. The returned row carries the
// master's cancellation flag, so every push doubles as a cancel poll. A
// stale epoch comes back as an *APIError with IsConflict true.
func (c *Client) PushProgress(ctx context.Context, siteID uint, update ProgressUpdate) (*Progress, error) {
	return updateResource[Progress](ctx, c, fmt.Sprintf("/api/v1/daemon/backup/progress/%d", siteID), update)
}

// BackupReport is the post-flight accounting report for a finished job.
type BackupReport struct {
	SiteID     uint       `json:"site_id"`
	Success    bool       `json:"success"`
	Filename   string     `json:"filename"`
	SizeBytes  int64      `json:"size_bytes"`
	ObjectKey  string     `json:"object_key,omitempty"`
	ProviderID *uint      `json:"provider_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// ReportBackup records a finished job with the master.
func (c *Client) ReportBackup(ctx context.Context, report BackupReport) (*Backup, error) {
	return createResource[Backup](ctx, c, "/api/v1/daemon/backup/report", report)
}

// ResetProgress clears a site's progress row, forcing past a RUNNING
// state when force is set. Available to both nodes and operators.
func (c *Client) ResetProgress(ctx context.Context, siteID uint, force bool) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/daemon/backup/reset/%d?force=%t", siteID, force), nil, nil)
}
