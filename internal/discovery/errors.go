package discovery

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running Responder.
	ErrAlreadyRunning = errors.New("discovery: responder already running")

	// ErrInvalidGroup is returned when the configured group is not a
	// multicast UDP address.
	ErrInvalidGroup = errors.New("discovery: invalid multicast group")

	// ErrNoInterface is returned when no multicast interface could join
	// the group.
	ErrNoInterface = errors.New("discovery: no multicast interface joined")
)
