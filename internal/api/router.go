package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	return r
}

// handleHealth returns the bridge health view.
//
// Responds 200 when the bridge is running with both endpoints connected,
// 503 otherwise, so load balancers and uptime checks can consume the
// status code directly.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.supervisor.Health()

	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":    string(health.State),
		"version":   s.version,
		"bridge_id": health.BridgeID,
		"endpoints": health.Endpoints,
		"queues":    health.Queues,
	})
}

// handleMetrics returns the forwarding counter snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Metrics().Snapshot())
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}
