package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nerrad567/lwm2m-gateway/internal/audit"
	"github.com/nerrad567/lwm2m-gateway/internal/auth"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"endpoints": s.endpoints.Count(),
		"websocket": s.hub.ClientCount(),
	})
}

// handleVersion returns the bare version tag as text.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	io.WriteString(w, s.version)
}

type authenticateRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// handleAuthenticate exchanges a user's name and secret for an access token.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		writeNotFound(w, "authentication is disabled")
		return
	}
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		writeUnsupportedMediaType(w, "content type must be "+contentTypeJSON)
		return
	}

	var req authenticateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Secret == "" {
		writeBadRequest(w, "name and secret are required")
		return
	}

	token, err := s.issuer.Authenticate(req.Name, req.Secret)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("authentication failed", "name", req.Name)
		s.recordAudit(r, audit.ActionLoginFailed, req.Name, nil)
		writeUnauthorized(w, "invalid credentials")
		return
	case err != nil:
		s.logger.Error("issuing token failed", "name", req.Name, "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}

	s.recordAudit(r, audit.ActionLogin, req.Name, nil)
	writeJSON(w, http.StatusCreated, token)
}
