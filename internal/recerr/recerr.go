// Package recerr defines the error taxonomy shared by executors, the
// dispatcher, and the control plane. Every failure that crosses a package
// boundary is classified into a Kind; the dispatcher retries only
// Transient, and the HTTP layer maps kinds to status codes.
package recerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	// KindUnknown is the zero kind; unclassified errors retry like
	// transient ones.
	KindUnknown Kind = iota

	// KindNotFound covers missing or tenant-mismatched entities. The two
	// cases are deliberately indistinguishable.
	KindNotFound

	// KindAuthExpired covers provider credentials that no retry can fix.
	KindAuthExpired

	// KindAdmission covers quota and state-machine precondition failures.
	// Rejected synchronously; never enqueued.
	KindAdmission

	// KindQuotaExceeded is an admission failure caused by a quota limit.
	KindQuotaExceeded

	// KindTransient covers network errors, provider 5xx, and timeouts.
	// The dispatcher retries these with backoff.
	KindTransient

	// KindTerminal covers validation and data-integrity failures that
	// fail fast without retry.
	KindTerminal

	// KindCascadeSkip marks a transcription-family failure that the
	// config turned into a skip; not an error at the task level.
	KindCascadeSkip

	// KindRace marks a guarded mutation that found state changed under
	// it. Aborted silently; the original request wins.
	KindRace
)

// String returns the kind's name for logging.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAuthExpired:
		return "auth_expired"
	case KindAdmission:
		return "admission"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindCascadeSkip:
		return "cascade_skip"
	case KindRace:
		return "race"
	default:
		return "unknown"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause returns nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound creates a not-found error for an entity.
func NotFound(entity string) *Error {
	return New(KindNotFound, "%s not found", entity)
}

// KindOf extracts the kind of an error chain, KindUnknown when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the dispatcher should retry the task. Only
// transient and unclassified errors are retried; everything classified
// terminal-ish fails fast.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}
