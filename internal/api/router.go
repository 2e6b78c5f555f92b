package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such resource")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// No auth required
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Post("/authenticate", s.handleAuthenticate)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/notification", func(r chi.Router) {
			r.Get("/callback", s.handleGetCallback)
			r.Put("/callback", s.handlePutCallback)
			r.Delete("/callback", s.handleDeleteCallback)
			r.Get("/pull", s.handlePull)
		})

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handleListEndpoints)
			r.Get("/{name}", s.handleGetEndpoint)
		})

		r.Get("/audit", s.handleListAudit)
		r.Get(s.hub.cfg.Path, s.handleWebSocket)
	})

	return r
}
