package models

import (
	"fmt"
	"time"
)

// BackupStatus is the terminal bookkeeping status of a backup record.
type BackupStatus string

const (
	BackupRunning BackupStatus = "running"
	BackupSuccess BackupStatus = "success"
	BackupFailed  BackupStatus = "failed"
	BackupDeleted BackupStatus = "deleted"
)

// IsValid checks if the status is a known BackupStatus.
func (s BackupStatus) IsValid() bool {
	switch s {
	case BackupRunning, BackupSuccess, BackupFailed, BackupDeleted:
		return true
	}
	return false
}

// Backup is one archived snapshot of a site.
//
// A success record always carries a non-empty object key; a deleted record
// contributes nothing to storage accounting and has no remote object.
type Backup struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UUID   string `gorm:"uniqueIndex;not null;size:36" json:"uuid"`
	SiteID uint   `gorm:"not null;index" json:"site_id"`
	Site   *Site  `gorm:"foreignKey:SiteID" json:"site,omitempty"`

	Filename  string `gorm:"not null;size:512" json:"filename"`
	SizeBytes int64  `gorm:"not null;default:0" json:"size_bytes"`
	// ObjectKey is "{node_uuid}/{site_uuid}/{filename}" under the
	// provider's bucket. Empty until the upload completes.
	ObjectKey  string           `gorm:"size:1024" json:"object_key,omitempty"`
	ProviderID *uint            `gorm:"index" json:"provider_id,omitempty"`
	Provider   *StorageProvider `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`

	Status       BackupStatus `gorm:"not null;default:running;size:20;index" json:"status"`
	BackupType   string       `gorm:"size:20;default:full" json:"backup_type"`
	ErrorMessage string       `gorm:"size:1024" json:"error_message,omitempty"`

	ScheduledDeletion *time.Time `gorm:"index" json:"scheduled_deletion,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for Backup.
func (Backup) TableName() string {
	return "backups"
}

// CountsTowardUsage reports whether the record contributes to
// storage_used_bytes accounting.
func (b *Backup) CountsTowardUsage() bool {
	return b.Status == BackupSuccess
}

// Validate checks if the backup has valid configuration.
func (b *Backup) Validate() error {
	if b.SiteID == 0 {
		return fmt.Errorf("site_id is required")
	}
	if b.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", b.Status)
	}
	if b.Status == BackupSuccess && b.ObjectKey == "" {
		return fmt.Errorf("success backup requires an object key")
	}
	if b.SizeBytes < 0 {
		return fmt.Errorf("size must not be negative")
	}
	return nil
}
