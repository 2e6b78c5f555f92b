package client

import (
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Domain errors for the client package.
var (
	// ErrAlreadyRegistered is returned by Connect while a registration is active or in progress.
	ErrAlreadyRegistered = errors.New("client: already registered")

	// ErrNotRegistered is returned by Disconnect without an active registration.
	ErrNotRegistered = errors.New("client: not registered")

	// ErrInvalidTransition is returned for a state change the session does not allow.
	ErrInvalidTransition = errors.New("client: invalid state transition")

	// ErrSendFailed is returned when the server did not accept a Send.
	ErrSendFailed = errors.New("client: send failed")
)

// ConnectErrorKind classifies a failed Connect.
type ConnectErrorKind string

// Connect failure kinds.
const (
	// ConnectTimeout means the server did not acknowledge within the handshake timeout.
	ConnectTimeout ConnectErrorKind = "timeout"

	// ConnectUnreachable means the server address could not be reached.
	ConnectUnreachable ConnectErrorKind = "unreachable"

	// ConnectRejected means the server answered with an error code.
	ConnectRejected ConnectErrorKind = "rejected"
)

// ConnectError is returned by Connect when registration fails.
type ConnectError struct {
	Kind    ConnectErrorKind
	Address string

	// Code is the server's response code for ConnectRejected.
	Code codes.Code

	Err error
}

func (e *ConnectError) Error() string {
	switch e.Kind {
	case ConnectRejected:
		return fmt.Sprintf("client: registration at %s rejected with %v", e.Address, e.Code)
	case ConnectTimeout:
		return fmt.Sprintf("client: registration at %s timed out", e.Address)
	default:
		if e.Err != nil {
			return fmt.Sprintf("client: %s unreachable: %v", e.Address, e.Err)
		}
		return fmt.Sprintf("client: %s unreachable", e.Address)
	}
}

func (e *ConnectError) Unwrap() error { return e.Err }
