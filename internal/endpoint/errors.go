package endpoint

import "errors"

// Domain errors for the endpoint package.
var (
	// ErrNotFound is returned when no registration matches.
	ErrNotFound = errors.New("endpoint: not found")

	// ErrInvalidRegistration is returned when registration parameters are missing or malformed.
	ErrInvalidRegistration = errors.New("endpoint: invalid registration")

	// ErrRejected is returned when every record of a Send was rejected.
	ErrRejected = errors.New("endpoint: values rejected")
)
