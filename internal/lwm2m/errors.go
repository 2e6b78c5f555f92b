package lwm2m

import "errors"

// Domain errors for the lwm2m package.
var (
	// ErrInvalidPath is returned when an object path cannot be parsed.
	ErrInvalidPath = errors.New("lwm2m: invalid path")

	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("lwm2m: resource not found")

	// ErrExists is returned when defining a resource that already exists.
	ErrExists = errors.New("lwm2m: resource already exists")

	// ErrTypeMismatch is returned when a value does not match the resource's declared type.
	ErrTypeMismatch = errors.New("lwm2m: type mismatch")

	// ErrInvalidPayload is returned when a SenML or link-format payload is malformed.
	ErrInvalidPayload = errors.New("lwm2m: invalid payload")
)
