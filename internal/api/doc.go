// Package api implements the northbound HTTP REST API and WebSocket event
// stream of the LwM2M gateway.
//
// This package provides:
//   - the notification interface: callback subscription and queue pull
//   - read-only endpoint listing
//   - bearer token authentication with per-user method and path scopes
//   - a WebSocket hub relaying endpoint events, filtered per client by
//     event type and endpoint name
//   - an audit trail of callback changes and logins (GET /audit)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Devices talk CoAP to the endpoint registry. Registry events fan out to
// the notification dispatcher, which pushes async responses to the
// subscribed callback URL or queues them for GET /notification/pull, and to
// the Hub, which forwards them to WebSocket clients.
//
// # Security
//
// When security.jwt is enabled every route except /health, /version,
// /metrics and /authenticate requires "Authorization: Bearer <token>".
// WebSocket clients may pass the token as ?access_token= instead.
//
// # Wire compatibility
//
// A successful PUT /notification/callback answers 200 with an empty body,
// which is what existing northbound applications expect.
package api
