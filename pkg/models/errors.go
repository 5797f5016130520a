package models

import "errors"

// Common errors for control plane entities.
var (
	// User errors
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	ErrUserDisabled  = errors.New("user account is disabled")

	// Node errors
	ErrNodeNotFound      = errors.New("node not found")
	ErrDuplicateNode     = errors.New("node already exists")
	ErrNodeNotPending    = errors.New("node is not pending approval")
	ErrNodeBlocked       = errors.New("node is blocked")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrCodeNotFound      = errors.New("registration code not found")
	ErrKeyAlreadyClaimed = errors.New("API key already retrieved")

	// Site errors
	ErrSiteNotFound     = errors.New("site not found")
	ErrDuplicateSite    = errors.New("site already exists")
	ErrInvalidFrequency = errors.New("invalid schedule frequency")

	// Backup errors
	ErrBackupNotFound = errors.New("backup not found")
	ErrBackupRunning  = errors.New("backup already running for this site")

	// Storage provider errors
	ErrProviderNotFound  = errors.New("storage provider not found")
	ErrDuplicateProvider = errors.New("storage provider already exists")
	ErrNoDefaultProvider = errors.New("no default storage provider configured")

	// Progress errors
	ErrProgressNotFound = errors.New("progress row not found")
	ErrStaleEpoch       = errors.New("progress write from stale epoch")

	// Quota errors
	ErrQuotaExceeded    = errors.New("storage quota exceeded")
	ErrQuotaOverCommits = errors.New("site quotas would exceed node quota")

	// Setting errors
	ErrSettingNotFound = errors.New("setting not found")
)
