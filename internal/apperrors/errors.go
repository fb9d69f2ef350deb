package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport-level mapping
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindGatewayRejected    Kind = "gateway_rejected"
	KindConfigMissing      Kind = "config_missing"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal"
)

// Error is a kinded error carrying optional per-field detail
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is matching against another *Error by kind
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds a kinded error with a message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error around an underlying cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation builds a validation error with field-level detail
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NotFound builds a not-found error for a named resource
func NotFound(resource, key string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resource, key)}
}

// KindOf extracts the kind of an error, KindInternal if untagged
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
