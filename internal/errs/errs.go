// Package errs defines the typed error kinds surfaced by the conversion
// and query pipelines, and the HTTP status each maps to.
package errs

import (
	stderrors "errors"
	"fmt"

	"github.com/pingcap/errors"
)

// Kind identifies one of the error classes in the error-handling design.
type Kind string

const (
	SourceUnreadable    Kind = "SourceUnreadable"
	RecordTooLarge      Kind = "RecordTooLarge"
	TooManyBadRows      Kind = "TooManyBadRows"
	SchemaMismatch      Kind = "SchemaMismatch"
	WriterFailure       Kind = "WriterFailure"
	NotReady            Kind = "NotReady"
	SqlSynthesisInvalid Kind = "SqlSynthesisInvalid"
	QueryTimeout        Kind = "QueryTimeout"
	QueryTooLarge       Kind = "QueryTooLarge"
	LLMUnavailable      Kind = "LLMUnavailable"
)

// Error wraps a Kind with a causing error and optional context fields.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a traced *Error of the given kind.
func New(kind Kind, msg string, cause error) *Error {
	if cause != nil {
		cause = errors.Trace(cause)
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Newf is New with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...), cause)
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Recoverable reports whether a job in this error state may succeed on
// re-delivery without caller intervention, per the error-handling table.
func (k Kind) Recoverable() bool {
	switch k {
	case WriterFailure:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code it surfaces as, for kinds
// that reach the HTTP layer directly (as opposed to via a failed job
// record observed through polling).
func HTTPStatus(k Kind) int {
	switch k {
	case NotReady:
		return 409
	case SqlSynthesisInvalid:
		return 422
	case LLMUnavailable:
		return 503
	default:
		return 500
	}
}
