package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
)

// endpointStatusActive is the status reported for every live registration.
const endpointStatusActive = "ACTIVE"

// EndpointSummary is one entry of GET /endpoints.
type EndpointSummary struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Queue  bool   `json:"q"`
}

// ObjectLink is one object instance of GET /endpoints/{name}.
type ObjectLink struct {
	URI string `json:"uri"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	eps := s.endpoints.List()
	out := make([]EndpointSummary, 0, len(eps))
	for _, ep := range eps {
		out = append(out, EndpointSummary{Name: ep.Name, Status: endpointStatusActive, Queue: ep.QueueMode})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetEndpoint lists the object instances a device announced.
func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ep, err := s.endpoints.Get(name)
	if errors.Is(err, endpoint.ErrNotFound) {
		writeNotFound(w, "endpoint not registered")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to look up endpoint")
		return
	}

	instances := ep.Resources.Instances()
	out := make([]ObjectLink, 0, len(instances))
	for _, p := range instances {
		out = append(out, ObjectLink{URI: p.String()})
	}
	writeJSON(w, http.StatusOK, out)
}
