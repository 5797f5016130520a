package models

import "time"

// ProgressState is the live state of a site's current or most recent job.
type ProgressState string

const (
	ProgressIdle      ProgressState = "idle"
	ProgressRunning   ProgressState = "running"
	ProgressCompleted ProgressState = "completed"
	ProgressFailed    ProgressState = "failed"
	ProgressStopped   ProgressState = "stopped"
)

// IsValid checks if the state is a known ProgressState.
func (s ProgressState) IsValid() bool {
	switch s {
	case ProgressIdle, ProgressRunning, ProgressCompleted, ProgressFailed, ProgressStopped:
		return true
	}
	return false
}

// IsTerminal reports whether the state ends a job. Terminal states are
// sticky until the next start resets the row.
func (s ProgressState) IsTerminal() bool {
	switch s {
	case ProgressCompleted, ProgressFailed, ProgressStopped:
		return true
	}
	return false
}

// Pipeline stage names as they appear on the wire in progress rows.
const (
	StageDumpDB    = "backup_db"
	StageCopyFiles = "backup_files"
	StageBundle    = "create_bundle"
	StageUpload    = "upload_remote"
	StageCleanup   = "cleanup"
)

// BackupProgress is the single live status row per site.
//
// Writes are compare-and-set on Epoch: starting a job increments the
// epoch, and updates carrying an older epoch are dropped so a zombie job
// can never clobber the row of a freshly started one.
type BackupProgress struct {
	ID     uint `gorm:"primaryKey" json:"-"`
	SiteID uint `gorm:"uniqueIndex;not null" json:"site_id"`
	Epoch  int64 `gorm:"not null;default:0" json:"epoch"`

	State          ProgressState `gorm:"not null;default:idle;size:20" json:"state"`
	Percent        int           `gorm:"not null;default:0" json:"percent"`
	Stage          string        `gorm:"size:32" json:"stage,omitempty"`
	Message        string        `gorm:"size:512" json:"message,omitempty"`
	BytesProcessed int64         `gorm:"not null;default:0" json:"bytes_processed"`
	BytesTotal     int64         `gorm:"not null;default:0" json:"bytes_total"`
	Error          *string       `gorm:"size:1024" json:"error,omitempty"`

	CancelRequested bool       `gorm:"not null;default:false" json:"cancel_requested"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for BackupProgress.
func (BackupProgress) TableName() string {
	return "backup_progress"
}

// Snapshot returns a copy safe to hand to observers.
func (p *BackupProgress) Snapshot() BackupProgress {
	c := *p
	if p.Error != nil {
		e := *p.Error
		c.Error = &e
	}
	return c
}
