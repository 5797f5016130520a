package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a stage failure: it decides how the failure is
// reported to the master and whether the temp directory is kept.
type Kind int

const (
	// KindConfig is a misconfiguration: missing credentials,
	// unparsable wp-config, absent mysqldump binary. Not retryable
	// until an operator intervenes.
	KindConfig Kind = iota

	// KindTransient is a failure the next scheduled run may not hit:
	// network errors, storage throttling, a locked table.
	KindTransient

	// KindQuotaExceeded is a pre-flight quota denial.
	KindQuotaExceeded

	// KindConflict is a fencing loss: a stale epoch or a concurrent
	// job for the same site.
	KindConflict

	// KindIntegrity is a verification failure: short archive, size
	// mismatch after upload.
	KindIntegrity

	// KindCancelled is a cooperative cancellation.
	KindCancelled

	// KindFatal is anything else; the temp dir is kept when
	// keep-on-failure is set.
	KindFatal
)

// String returns the kind name as reported in progress messages.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	case KindCancelled:
		return "cancelled"
	default:
		return "fatal"
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fail wraps err with a kind and the failing stage's name.
func fail(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// classify maps an arbitrary error to a pipeline error. Context
// cancellation becomes KindCancelled; already-classified errors pass
// through; everything else is the fallback kind.
func classify(err error, stage string, fallback Kind) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.Canceled) {
		return fail(KindCancelled, stage, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fail(KindTransient, stage, err)
	}
	return fail(fallback, stage, err)
}
