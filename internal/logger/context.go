package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request- or job-scoped logging context.
// On the master it is populated per HTTP request; on the agent it is
// populated per pipeline job and flows through every stage.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	RequestID string    // chi request ID (master only)
	ClientIP  string    // client address without port
	NodeID    string    // node opaque id
	SiteID    string    // site opaque id
	SiteName  string    // site display name
	JobID     string    // pipeline job id (agent only)
	Stage     string    // running pipeline stage (agent only)
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithSite returns a copy with the site identity set
func (lc *LogContext) WithSite(siteID, siteName string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SiteID = siteID
		clone.SiteName = siteName
	}
	return clone
}

// WithJob returns a copy with the job id set
func (lc *LogContext) WithJob(jobID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.JobID = jobID
	}
	return clone
}

// WithStage returns a copy with the running stage set
func (lc *LogContext) WithStage(stage string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Stage = stage
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
