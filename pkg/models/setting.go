package models

import (
	"fmt"
	"time"
)

// SettingScope is the level a setting applies to. Resolution is
// most-specific-wins: site overrides node overrides global.
type SettingScope string

const (
	ScopeGlobal SettingScope = "global"
	ScopeNode   SettingScope = "node"
	ScopeSite   SettingScope = "site"
)

// IsValid checks if the scope is a known SettingScope.
func (s SettingScope) IsValid() bool {
	return s == ScopeGlobal || s == ScopeNode || s == ScopeSite
}

// Well-known setting keys.
const (
	SettingRetentionGraceDays = "retention_grace_days"
	SettingDriftThreshold     = "reconcile_drift_threshold"
	SettingDefaultTimezone    = "default_timezone"
	SettingBandwidthLimit     = "upload_bandwidth_limit"
)

// Setting is one tiered key-value entry.
type Setting struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// Scope and ScopeID locate the tier; ScopeID is nil for global.
	Scope   SettingScope `gorm:"not null;default:global;size:16;uniqueIndex:idx_setting_scope_key" json:"scope"`
	ScopeID *uint        `gorm:"uniqueIndex:idx_setting_scope_key" json:"scope_id,omitempty"`
	Key     string       `gorm:"not null;size:128;uniqueIndex:idx_setting_scope_key" json:"key"`
	Value   string       `gorm:"type:text" json:"value"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Validate checks if the setting has valid configuration.
func (s *Setting) Validate() error {
	if !s.Scope.IsValid() {
		return fmt.Errorf("invalid scope: %s", s.Scope)
	}
	if s.Scope != ScopeGlobal && s.ScopeID == nil {
		return fmt.Errorf("scope_id is required for %s scope", s.Scope)
	}
	if s.Key == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}
