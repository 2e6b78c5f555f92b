package coap

import "errors"

// Errors for CoAP transport operations.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("coap: server already started")

	// ErrListenFailed is returned when the UDP socket cannot be bound.
	ErrListenFailed = errors.New("coap: listen failed")

	// ErrDialFailed is returned when a client connection cannot be created.
	ErrDialFailed = errors.New("coap: dial failed")

	// ErrRequestFailed is returned when a request gets no response.
	ErrRequestFailed = errors.New("coap: request failed")
)
