package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across master and agent so the JSON log stream
// can be aggregated and queried by the same names everywhere.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// HTTP surface
	KeyRequestID = "request_id" // chi request ID
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // request path
	KeyStatus    = "status"     // HTTP status code
	KeyClientIP  = "client_ip"  // Remote client address (without port)
	KeyUserAgent = "user_agent" // Coarse client user agent

	// Identity
	KeyUserID   = "user_id"   // acting user (bearer auth)
	KeyUserRole = "role"      // acting user role
	KeyNodeID   = "node_id"   // node opaque id (API-key auth or job owner)
	KeyHostname = "hostname"  // node hostname
	KeySiteID   = "site_id"   // site opaque id
	KeySiteName = "site_name" // site display name

	// Backup pipeline
	KeyJobID    = "job_id"   // pipeline job id
	KeyStage    = "stage"    // pipeline stage name (backup_db, upload_remote, ...)
	KeyEpoch    = "epoch"    // progress row epoch
	KeyPercent  = "percent"  // progress percent
	KeyBackupID = "backup_id"
	KeyArchive  = "archive" // archive filename

	// Object store
	KeyProvider  = "provider" // storage provider name
	KeyBucket    = "bucket"
	KeyObjectKey = "object_key"
	KeyUploadID  = "upload_id" // multipart upload id
	KeyPart      = "part"      // multipart part number

	// Sizes and accounting
	KeySize       = "size"        // generic byte count
	KeyBytesSent  = "bytes_sent"  // bytes handed to the upload transport
	KeyBytesTotal = "bytes_total" // expected total bytes
	KeyUsedBytes  = "used_bytes"
	KeyQuotaBytes = "quota_bytes"
	KeyDrift      = "drift_bytes" // reconciliation drift

	// Operation metadata
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"
	KeyAttempt    = "attempt" // retry attempt counter
	KeyDryRun     = "dry_run"
	KeyCount      = "count"
)

// Err wraps an error as a slog attribute under the standard error key.
// Nil errors produce an empty attribute that slog drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Stage returns the standard attribute pair for a pipeline stage.
func Stage(name string) slog.Attr {
	return slog.String(KeyStage, name)
}

// Site returns a grouped attribute identifying a site.
func Site(id, name string) slog.Attr {
	return slog.Group("site",
		slog.String("id", id),
		slog.String("name", name),
	)
}

// FormatBytes renders a byte count in a compact human form for messages.
// Structured fields should carry the raw number instead.
func FormatBytes(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
		tib = 1 << 40
	)
	switch {
	case n >= tib:
		return fmt.Sprintf("%.2fTiB", float64(n)/float64(tib))
	case n >= gib:
		return fmt.Sprintf("%.2fGiB", float64(n)/float64(gib))
	case n >= mib:
		return fmt.Sprintf("%.2fMiB", float64(n)/float64(mib))
	case n >= kib:
		return fmt.Sprintf("%.2fKiB", float64(n)/float64(kib))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
