// Package auth provides bearer-token authentication for the gateway REST API.
//
// Users are configured statically (security.jwt.users) with a secret and a
// list of scopes. POST /authenticate exchanges name and secret for an HMAC
// signed JWT; later requests carry it as "Authorization: Bearer <token>".
//
// A scope is "METHOD PATH" where PATH is a regular expression over the
// whole request path, for example:
//
//	GET /endpoints.*
//	* /notification/.*
//
// A user without scopes can authenticate but is forbidden everywhere.
// Secrets may be stored as Argon2id PHC strings (see HashSecret) or in plain.
package auth
