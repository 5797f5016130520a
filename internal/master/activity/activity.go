// Package activity records the audit trail of operator and agent
// actions. Recording is best-effort: a failed audit write is logged but
// never fails the action it describes.
package activity

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Well-known action names.
const (
	ActionLogin           = "auth.login"
	ActionLoginFailed     = "auth.login_failed"
	ActionPasswordChange  = "auth.password_change"
	ActionNodeApprove     = "node.approve"
	ActionNodeBlock       = "node.block"
	ActionNodeQuota       = "node.quota_set"
	ActionSiteQuota       = "site.quota_set"
	ActionSiteSchedule    = "site.schedule_set"
	ActionBackupStart     = "backup.start"
	ActionBackupCancel    = "backup.cancel"
	ActionBackupRestore   = "backup.restore"
	ActionBackupDelete    = "backup.delete"
	ActionProviderCreate  = "provider.create"
	ActionProviderDefault = "provider.set_default"
	ActionSettingChange   = "setting.change"
	ActionReconcile       = "storage.reconcile"
)

// Recorder appends audit entries.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates an activity recorder.
func NewRecorder(st *store.Store) *Recorder {
	return &Recorder{store: st}
}

// Record appends one entry. Errors are swallowed after logging.
func (r *Recorder) Record(ctx context.Context, entry *models.ActivityLog) {
	if err := r.store.AppendActivity(ctx, entry); err != nil {
		logger.Error("Failed to record activity", "action", entry.Action, "error", err)
	}
}

// RecordRequest appends an entry for an authenticated HTTP request,
// capturing the client address and user agent from the request.
func (r *Recorder) RecordRequest(req *http.Request, user *models.User, action, targetType, targetID string, detail any) {
	entry := &models.ActivityLog{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		SourceIP:   ClientIP(req),
		UserAgent:  req.UserAgent(),
	}
	if user != nil {
		entry.UserID = &user.ID
		entry.Actor = user.Email
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = string(raw)
		}
	}
	r.Record(req.Context(), entry)
}

// ListForUser returns a user's recent entries, newest first.
func (r *Recorder) ListForUser(ctx context.Context, userID uint, limit int) ([]*models.ActivityLog, error) {
	return r.store.ListActivityForUser(ctx, userID, limit)
}

// ClientIP resolves the originating client address. Proxy headers are
// consulted in trust order before falling back to the peer address:
// CF-Connecting-IP, X-Real-IP, then the first hop of X-Forwarded-For.
func ClientIP(req *http.Request) string {
	if ip := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
