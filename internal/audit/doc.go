// Package audit records changes made through the gateway API.
//
// Every change of the notification callback subscription and every
// authentication attempt is written to the audit_logs table with the
// acting token subject and the client address. Entries are listed newest
// first by GET /audit.
package audit
