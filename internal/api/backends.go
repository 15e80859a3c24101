package api

import "net/http"

// handleListBackends reports the registered graph backends and their
// connection pool usage.
func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}
