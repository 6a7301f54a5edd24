package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP mapping and logging.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindTransition      Kind = "transition"
	KindExternalService Kind = "external_service"
	KindSignature       Kind = "signature"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation reports a user-correctable input problem.
func Validation(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

// Authorization reports an actor lacking rights for an operation.
func Authorization(format string, args ...interface{}) *Error {
	return Newf(KindAuthorization, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

// Transition reports a state-machine sequencing violation.
func Transition(format string, args ...interface{}) *Error {
	return Newf(KindTransition, format, args...)
}

// External reports a failed or timed-out upstream call; callers may retry.
func External(message string, err error) *Error {
	return Wrap(KindExternalService, message, err)
}

// Signature reports a webhook authentication failure.
func Signature(format string, args ...interface{}) *Error {
	return Newf(KindSignature, format, args...)
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Unclassified errors report an empty Kind.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
