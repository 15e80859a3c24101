package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/wart/internal/session"
)

// sessionResponse describes an open session. Timeouts are in milliseconds.
type sessionResponse struct {
	Token            string `json:"token"`
	Namespace        string `json:"namespace"`
	IOTimeout        int64  `json:"io_timeout_ms"`
	ExecutionTimeout int64  `json:"execution_timeout_ms"`
	Parallelism      uint32 `json:"parallelism"`
	Epoch            uint64 `json:"epoch"`
	LogSubscribers   int    `json:"log_subscribers"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	sess, err := s.engine.Session(r.Context(), token)
	if errors.Is(err, session.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("get session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	s.writeJSON(w, http.StatusOK, sessionResponse{
		Token:            sess.Token,
		Namespace:        sess.Namespace,
		IOTimeout:        sess.IOTimeout.Milliseconds(),
		ExecutionTimeout: sess.ExecutionTimeout.Milliseconds(),
		Parallelism:      sess.Parallelism,
		Epoch:            sess.Epoch,
		LogSubscribers:   s.engine.Broker().Subscribers(token),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := s.engine.CloseSession(r.Context(), token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("close session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
