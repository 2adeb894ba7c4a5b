// Package errors implements the control plane's error taxonomy: a single
// tagged sum type carrying a machine-readable Kind plus a human message,
// so no control flow crosses component boundaries by non-local unwinding.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindUnknown Kind = "unknown"

	// Validation family.
	KindMalformed            Kind = "malformed"
	KindUnknownVariable      Kind = "unknown_variable"
	KindMissingRequired      Kind = "missing_required"
	KindTypeMismatch         Kind = "type_mismatch"
	KindConstraintViolation  Kind = "constraint_violation"
	KindUnresolvedDependency Kind = "unresolved_dependency"
	KindCyclicDependency     Kind = "cyclic_dependency"
	KindProviderConflict     Kind = "provider_conflict"

	// Catalog family.
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindDeprecated    Kind = "deprecated"

	// AuthZ/AuthN family.
	KindUnauthenticated Kind = "unauthenticated"
	KindInvalidToken    Kind = "invalid_token"
	KindForbidden       Kind = "forbidden"

	// Concurrency family.
	KindBusy       Kind = "busy"
	KindConflict   Kind = "conflict"
	KindRunnerLost Kind = "runner_lost"

	// Backend family.
	KindTransient       Kind = "transient"
	KindPermissionDenied Kind = "permission_denied"
	KindQuotaExceeded    Kind = "quota_exceeded"

	// Runner family.
	KindRuntimeError Kind = "runtime_error"
	KindCancelled    Kind = "cancelled"
	KindTimeout      Kind = "timeout"

	// Internal: not part of the spec taxonomy, reserved for genuine bugs
	// and unclassified wrapped errors from dependencies.
	KindInternal Kind = "internal"
)

// family groups kinds for the propagation policy below.
type family int

const (
	familyValidation family = iota
	familyCatalog
	familyAuthz
	familyConcurrency
	familyBackend
	familyRunner
	familyOther
)

var kindFamily = map[Kind]family{
	KindMalformed:            familyValidation,
	KindUnknownVariable:      familyValidation,
	KindMissingRequired:      familyValidation,
	KindTypeMismatch:         familyValidation,
	KindConstraintViolation:  familyValidation,
	KindUnresolvedDependency: familyValidation,
	KindCyclicDependency:     familyValidation,
	KindProviderConflict:     familyValidation,

	KindNotFound:      familyCatalog,
	KindAlreadyExists: familyCatalog,
	KindDeprecated:    familyCatalog,

	KindUnauthenticated: familyAuthz,
	KindInvalidToken:    familyAuthz,
	KindForbidden:       familyAuthz,

	KindBusy:       familyConcurrency,
	KindConflict:   familyConcurrency,
	KindRunnerLost: familyConcurrency,

	KindTransient:        familyBackend,
	KindPermissionDenied:  familyBackend,
	KindQuotaExceeded:     familyBackend,

	KindRuntimeError: familyRunner,
	KindCancelled:    familyRunner,
	KindTimeout:      familyRunner,
}

// AppError is a structured error carrying a Kind, message, and optional
// metadata for event-log reconstruction.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
	Meta    map[string]any
}

// Code is kept as an alias of Kind so call sites written against the
// donor's narrower Code/AppError shape keep compiling unchanged.
type Code = Kind

const (
	CodeUnknown       = KindUnknown
	CodeInvalid       = KindMalformed
	CodeNotFound      = KindNotFound
	CodeConflict      = KindConflict
	CodeUnauthorized  = KindUnauthenticated
	CodeForbidden     = KindForbidden
	CodeInternal      = KindInternal
	CodeUnavailable   = KindTransient
	CodeDeadline      = KindTimeout
	CodeAlreadyExists = KindAlreadyExists
)

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithMeta attaches metadata to the error, used when writing the
// corresponding Event row so operators can reconstruct context later.
func (e *AppError) WithMeta(k string, v any) *AppError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[k] = v
	return e
}

// New creates a new AppError with the given kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap wraps an existing error with a kind and message.
func Wrap(err error, kind Kind, message string) *AppError {
	if err == nil {
		return New(kind, message)
	}
	return &AppError{Kind: kind, Message: message, Err: err}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *AppError {
	return New(kind, fmt.Sprintf(format, args...))
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsCode is an alias of IsKind, kept for call sites written against the
// donor's Code-based signature.
func IsCode(err error, code Code) bool { return IsKind(err, code) }

// KindOf extracts the Kind from err, or KindUnknown if err does not carry one.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the propagation policy calls for retrying
// err at the call site: Transient backend errors always, Conflict errors
// in publish/finalize transactions with a fresh read.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindConflict
}

// UserVisible reports whether err's message is safe to return to a
// caller verbatim. Validation, Catalog and AuthZ errors are user-visible;
// everything else (in particular Backend errors) must be sanitized.
func UserVisible(err error) bool {
	f, ok := kindFamily[KindOf(err)]
	if !ok {
		return false
	}
	return f == familyValidation || f == familyAuthz || f == familyCatalog
}

// Sanitize returns a message safe to show a caller: the error's own
// message when UserVisible, otherwise a generic message so internal
// detail about backend failures never leaks to the user. The original
// error is always preserved in Event rows and logs, never discarded.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	if UserVisible(err) {
		return err.Error()
	}
	return "an internal error occurred; see the job's event log for details"
}
