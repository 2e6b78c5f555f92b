package notification

import (
	"errors"
	"fmt"
)

// Domain errors for the notification package.
var (
	// ErrNotFound is returned when no callback subscription is set.
	ErrNotFound = errors.New("notification: callback not found")

	// ErrUnsupportedMediaType is returned when a subscription body is not JSON.
	ErrUnsupportedMediaType = errors.New("notification: unsupported media type")

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("notification: invalid subscription")

	// ErrPushFailed is returned when a callback push did not succeed.
	ErrPushFailed = errors.New("notification: push failed")
)

// ValidationKind classifies a subscription validation failure.
type ValidationKind string

// Validation kinds, in the order they are checked.
const (
	KindMissingBody   ValidationKind = "missing_body"
	KindMalformedBody ValidationKind = "malformed_body"
	KindMissingField  ValidationKind = "missing_field"
	KindUnknownField  ValidationKind = "unknown_field"
	KindWrongType     ValidationKind = "wrong_type"
	KindInvalidValue  ValidationKind = "invalid_value"
)

// Field names reported in validation errors.
const (
	FieldURL         = "url"
	FieldHeaders     = "headers"
	FieldHeaderValue = "header_value"
)

// ValidationError describes why a subscription body was rejected.
type ValidationError struct {
	Kind  ValidationKind
	Field string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindMissingBody:
		return "request body is empty"
	case KindMalformedBody:
		return "request body is not a JSON object"
	case KindMissingField:
		return fmt.Sprintf("missing field %q", e.Field)
	case KindUnknownField:
		return fmt.Sprintf("unexpected field %q", e.Field)
	case KindWrongType:
		if e.Field == FieldHeaders {
			return `"headers" must be an object`
		}
		if e.Field == FieldHeaderValue {
			return "header values must be strings"
		}
		return fmt.Sprintf("%q must be a string", e.Field)
	case KindInvalidValue:
		return fmt.Sprintf("%q is not a valid absolute URL", e.Field)
	default:
		return "invalid subscription"
	}
}

// Is lets errors.Is(err, ErrValidation) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
