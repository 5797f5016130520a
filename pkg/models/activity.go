package models

import "time"

// MaxActivityPerUser bounds the activity log: only the most recent
// entries per user are kept.
const MaxActivityPerUser = 100

// MaxUserAgentLength truncates stored user agents.
const MaxUserAgentLength = 500

// ActivityLog is an append-only audit record of an operator action.
type ActivityLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// UserID is the acting account; nil for agent or system actions.
	UserID *uint `gorm:"index" json:"user_id,omitempty"`
	// Actor is a display string: a user email, "cli:<operator>" for the
	// local admin binary, or "node:<hostname>" for agent calls.
	Actor string `gorm:"size:255" json:"actor"`

	Action     string `gorm:"not null;size:128;index" json:"action"`
	TargetType string `gorm:"size:64" json:"target_type,omitempty"`
	TargetID   string `gorm:"size:64" json:"target_id,omitempty"`

	SourceIP  string `gorm:"size:64" json:"source_ip,omitempty"`
	UserAgent string `gorm:"size:500" json:"user_agent,omitempty"`
	// Detail is a free-form JSON object with action specifics.
	Detail string `gorm:"type:text" json:"detail,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for ActivityLog.
func (ActivityLog) TableName() string {
	return "activity_logs"
}
