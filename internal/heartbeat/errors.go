package heartbeat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// HTTPError is a non-2xx response from the session service.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err wraps an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// ConflictError is returned by Start when the user already has an active
// session somewhere else.
type ConflictError struct {
	ActiveSessionID uuid.UUID
	Message         string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("active session %s already exists: %s", e.ActiveSessionID, e.Message)
}

// ErrSessionGone means the server no longer accepts heartbeats for the
// session, usually because it was ended elsewhere.
var ErrSessionGone = errors.New("session is no longer active")
