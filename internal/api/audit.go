package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/lwm2m-gateway/internal/audit"
	"github.com/nerrad567/lwm2m-gateway/internal/auth"
)

// recordAudit appends an entry to the audit trail. Failures are logged and
// never fail the request.
func (s *Server) recordAudit(r *http.Request, action, subject string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if subject == "" {
		subject = requestSubject(r)
	}
	e := &audit.Entry{
		Action:  action,
		Subject: subject,
		Source:  r.RemoteAddr,
		Details: details,
	}
	if err := s.audit.Record(r.Context(), e); err != nil {
		s.logger.Error("recording audit entry failed", "action", action, "error", err)
	}
}

// requestSubject is the token subject of an authenticated request.
func requestSubject(r *http.Request) string {
	if claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}

// handleListAudit returns a page of audit entries, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action:  q.Get("action"),
		Subject: q.Get("subject"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	result, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
