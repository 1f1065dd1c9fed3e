package api

import (
	"errors"
	"net/http"

	"labsessions/internal/auth"
	"labsessions/internal/session"
)

// writeSessionError maps session manager errors onto HTTP responses.
// Anything unrecognised is logged and reported as 500.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *session.ConflictError
	var verr *session.ValidationError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ConflictResponse{Error: session.ErrConflict.Error(), ActiveSessionID: conflict.ActiveSessionID})
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrAlreadyEnded):
		writeError(w, http.StatusConflict, "session already ended")
	default:
		s.internalError(w, r, err)
	}
}

// writeAuthError reports a rejection with rejectedStatus and its reason.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error, rejectedStatus int) {
	var rejected *auth.RejectedError
	if errors.As(err, &rejected) {
		writeError(w, rejectedStatus, rejected.Reason)
		return
	}
	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
