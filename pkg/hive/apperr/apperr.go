// Package apperr defines the error-kind taxonomy shared by every component
// of the daemon so that callers can branch on Kind instead of matching
// error strings.
package apperr

import "fmt"

// Kind classifies a failure into one of the categories the core
// distinguishes. Each has its own propagation and retry policy, documented
// on its constant below.
type Kind string

const (
	// NotConfigured means a required piece of setup (API key, vault
	// parameters) is missing. Fatal at startup.
	NotConfigured Kind = "not_configured"
	// NotFound means a referenced entity (user, conversation, skill,
	// workflow, credential, script) does not exist.
	NotFound Kind = "not_found"
	// Unauthorized means the caller does not own the resource it asked
	// for. Surfaced verbatim, never enriched with internal detail.
	Unauthorized Kind = "unauthorized"
	// Validation means the caller supplied something the core rejects
	// outright (bad cron expression, bad URL, unknown tool or step type,
	// malformed input mapping, non-JSON-serializable tool result).
	Validation Kind = "validation"
	// Transport means an LLM, HTTP, or DNS call failed in flight.
	Transport Kind = "transport"
	// RateLimited means a caller exceeded a sliding-window quota.
	RateLimited Kind = "rate_limited"
	// Timeout means a bounded operation (15s HTTP fetch, 60s script run)
	// exceeded its deadline.
	Timeout Kind = "timeout"
	// IntegrityMismatch means an AES-GCM authentication tag failed to
	// verify on decrypt. Never auto-recovered.
	IntegrityMismatch Kind = "integrity_mismatch"
)

// Error is the one error type every component in this module returns for
// anything beyond a bare "this function cannot fail" case.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Kind, so
// errors.Is(err, apperr.New(apperr.NotFound, "")) works as a kind probe.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that wraps cause, preserving it for errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
