package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackupFrequency is how often a site's scheduled backup runs.
type BackupFrequency string

const (
	FrequencyManual  BackupFrequency = "manual"
	FrequencyDaily   BackupFrequency = "daily"
	FrequencyWeekly  BackupFrequency = "weekly"
	FrequencyMonthly BackupFrequency = "monthly"
)

// IsValid checks if the frequency is a known BackupFrequency.
func (f BackupFrequency) IsValid() bool {
	switch f {
	case FrequencyManual, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// DefaultTimezone is applied to sites that do not declare their own zone.
const DefaultTimezone = "Africa/Harare"

// Site is one WordPress installation on a node.
type Site struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UUID   string `gorm:"uniqueIndex;not null;size:36" json:"uuid"`
	NodeID uint   `gorm:"not null;index" json:"node_id"`
	Node   *Node  `gorm:"foreignKey:NodeID" json:"node,omitempty"`

	Name          string `gorm:"not null;size:255" json:"name"`
	Path          string `gorm:"size:1024" json:"path,omitempty"`
	WPConfigPath  string `gorm:"size:1024" json:"wp_config_path,omitempty"`
	WPContentPath string `gorm:"size:1024" json:"wp_content_path,omitempty"`

	// Explicit database credentials. When empty the agent parses them out
	// of wp-config.php at dump time.
	DBName     string `gorm:"size:255" json:"db_name,omitempty"`
	DBUser     string `gorm:"size:255" json:"db_user,omitempty"`
	DBPassword string `gorm:"size:255" json:"-"`
	DBHost     string `gorm:"size:255" json:"db_host,omitempty"`

	Timezone          string          `gorm:"size:64;default:Africa/Harare" json:"timezone"`
	ScheduleFrequency BackupFrequency `gorm:"size:20;default:manual" json:"schedule_frequency"`
	// ScheduleTime is the local time of day as "HH:MM".
	ScheduleTime string `gorm:"size:5" json:"schedule_time,omitempty"`
	// ScheduleDays is a CSV day mask: 0-6 (Monday-based) for weekly,
	// 1-31 for monthly. Empty means every eligible day.
	ScheduleDays    string     `gorm:"size:128" json:"schedule_days,omitempty"`
	RetentionCopies int        `gorm:"default:5" json:"retention_copies"`
	NextRunAt       *time.Time `gorm:"index" json:"next_run_at,omitempty"`

	StorageQuotaBytes int64      `gorm:"not null;default:0" json:"storage_quota_bytes"`
	StorageUsedBytes  int64      `gorm:"not null;default:0" json:"storage_used_bytes"`
	QuotaExceededAt   *time.Time `json:"quota_exceeded_at,omitempty"`

	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Backups []Backup `gorm:"foreignKey:SiteID" json:"backups,omitempty"`
}

// TableName returns the table name for Site.
func (Site) TableName() string {
	return "sites"
}

// Location resolves the site's timezone, falling back to the default.
func (s *Site) Location() *time.Location {
	tz := s.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(DefaultTimezone)
	}
	return loc
}

// ScheduleDayList parses the CSV day mask into sorted integers.
// Invalid entries are skipped.
func (s *Site) ScheduleDayList() []int {
	if s.ScheduleDays == "" {
		return nil
	}
	parts := strings.Split(s.ScheduleDays, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days
}

// NextScheduledRun computes the first eligible run strictly after the
// given instant, in the site's timezone. Nil for manual sites.
//
// Weekly day masks are Monday-based 0-6; monthly masks are days of the
// month 1-31, where days a short month lacks simply do not fire. An
// empty mask means every eligible day.
func (s *Site) NextScheduledRun(after time.Time) *time.Time {
	if s.ScheduleFrequency == FrequencyManual || s.ScheduleFrequency == "" {
		return nil
	}

	loc := s.Location()
	hhmm := s.ScheduleTime
	if hhmm == "" {
		hhmm = "03:00"
	}
	at, err := time.Parse("15:04", hhmm)
	if err != nil {
		at, _ = time.Parse("15:04", "03:00")
	}

	days := s.ScheduleDayList()
	local := after.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, loc)

	// A year of days always contains an eligible one.
	for i := 0; i < 366; i++ {
		if candidate.After(after) && s.dayEligible(candidate, days) {
			t := candidate.UTC()
			return &t
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return nil
}

func (s *Site) dayEligible(t time.Time, days []int) bool {
	switch s.ScheduleFrequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		// time.Weekday is Sunday-based; the mask is Monday-based.
		day := (int(t.Weekday()) + 6) % 7
		if len(days) == 0 {
			return day == 0
		}
		for _, d := range days {
			if d == day {
				return true
			}
		}
		return false
	case FrequencyMonthly:
		if len(days) == 0 {
			return t.Day() == 1
		}
		for _, d := range days {
			if d == t.Day() {
				return true
			}
		}
		return false
	}
	return false
}

// EffectiveRetention returns retention_copies clamped to the node's
// max_retention_copies when the node declares one.
func (s *Site) EffectiveRetention() int {
	n := s.RetentionCopies
	if n <= 0 {
		n = 5
	}
	if s.Node != nil && s.Node.MaxRetentionCopies != nil && *s.Node.MaxRetentionCopies > 0 && n > *s.Node.MaxRetentionCopies {
		n = *s.Node.MaxRetentionCopies
	}
	return n
}

// Validate checks if the site has valid configuration.
func (s *Site) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.NodeID == 0 {
		return fmt.Errorf("node_id is required")
	}
	if !s.ScheduleFrequency.IsValid() {
		return fmt.Errorf("invalid schedule frequency: %s", s.ScheduleFrequency)
	}
	if s.ScheduleTime != "" {
		if _, err := time.Parse("15:04", s.ScheduleTime); err != nil {
			return fmt.Errorf("invalid schedule time %q: %w", s.ScheduleTime, err)
		}
	}
	if s.StorageQuotaBytes < 0 {
		return fmt.Errorf("storage quota must not be negative")
	}
	return nil
}
