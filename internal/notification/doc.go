// Package notification bridges device data to REST consumers.
//
// A consumer either registers a callback (CallbackStore, persisted through
// a Repository) and receives pushed async responses, or polls the pull
// endpoint, which drains the Queue. The Dispatcher picks the path for each
// response: push when a subscription exists, queue otherwise, and queue
// again whenever a push fails. Every response therefore reaches exactly
// one of the two paths.
//
// Pushes run through a gobreaker circuit breaker keyed on the callback URL
// so an unreachable consumer does not stall delivery; while the breaker is
// open responses go straight to the queue.
//
// The Dispatcher is an endpoint.Listener: Send operations from devices
// become one async response per resource value, with status 205 and a
// base64 SenML JSON payload.
package notification
