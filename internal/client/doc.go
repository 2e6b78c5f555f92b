// Package client implements the device side of an LwM2M registration.
//
// A Session walks an explicit state machine:
//
//	unregistered -> registering -> registered -> deregistering -> stopped
//	                     |
//	                     +-> failed
//
// Connect registers over CoAP (POST /rd) and returns once the server
// acknowledged, or a *ConnectError when the handshake timeout expires, the
// server is unreachable or it rejects the request. While registered, a
// background loop refreshes the registration at 80% of its lifetime.
// Disconnect deregisters and closes the transport after a short drain delay.
//
// UpdateResource writes a local value and reports observable resources to
// the server with the LwM2M Send operation (POST /dp, SenML JSON). It is a
// silent no-op unless the session is registered.
//
// Callers that need to react to state changes use Subscribe or block on
// WaitFor instead of polling State.
package client
