package http

import (
	"net/http"
)

// handleReady handles the readiness probe.
// Returns 200 only after the relay has published at least one value.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsReady() {
		respondJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

// handleLive handles the liveness probe.
// Returns 200 while blocks keep arriving.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsHealthy() {
		respondJSON(s.logger, w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleHealth handles the combined health check endpoint. A failing
// dependency marks the service degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := s.checker.IsReady()
	healthy := s.checker.IsHealthy()
	dependencies, dependenciesOK := s.checkDependencies(r.Context())
	status := "ok"
	statusCode := http.StatusOK

	if !ready || !healthy || !dependenciesOK {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	respondJSON(s.logger, w, statusCode, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"dependencies": dependencies,
		"shuttingDown": false,
	})
}
