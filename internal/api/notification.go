package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/nerrad567/lwm2m-gateway/internal/audit"
	"github.com/nerrad567/lwm2m-gateway/internal/notification"
)

const contentTypeJSON = "application/json"

// handleGetCallback returns the current callback subscription.
func (s *Server) handleGetCallback(w http.ResponseWriter, _ *http.Request) {
	sub, ok := s.callbacks.Get()
	if !ok {
		writeNotFound(w, "no notification callback set")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handlePutCallback replaces the callback subscription.
//
// A missing or non-JSON Content-Type is 415. Body validation failures are
// 400 and leave the previous subscription in place. Success answers 200
// with no body, matching deployed clients.
func (s *Server) handlePutCallback(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		writeUnsupportedMediaType(w, "content type must be "+contentTypeJSON)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "failed to read request body")
		return
	}

	sub, err := notification.ParseSubscription(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := s.callbacks.Set(r.Context(), sub); err != nil {
		s.logger.Error("storing notification callback failed", "error", err)
		writeInternalError(w, "failed to store callback")
		return
	}

	s.logger.Info("notification callback set", "url", sub.URL, "headers", len(sub.Headers))
	s.recordAudit(r, audit.ActionCallbackSet, "", map[string]any{"url": sub.URL})
	w.WriteHeader(http.StatusOK)
}

// handleDeleteCallback removes the callback subscription; later
// notifications are queued for pulling.
func (s *Server) handleDeleteCallback(w http.ResponseWriter, r *http.Request) {
	err := s.callbacks.Delete(r.Context())
	switch {
	case errors.Is(err, notification.ErrNotFound):
		writeNotFound(w, "no notification callback set")
	case err != nil:
		s.logger.Error("deleting notification callback failed", "error", err)
		writeInternalError(w, "failed to delete callback")
	default:
		s.logger.Info("notification callback removed")
		s.recordAudit(r, audit.ActionCallbackDelete, "", nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePull drains every queued async response.
func (s *Server) handlePull(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, notification.Envelope{AsyncResponses: s.dispatcher.Pull()})
}

func isJSONContentType(header string) bool {
	if header == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	return err == nil && mediaType == contentTypeJSON
}
