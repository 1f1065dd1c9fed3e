package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a session does not exist, or, for heartbeats,
	// when it is no longer active.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyEnded is returned when ending a session that has already ended.
	// The first end wins; its end method and end time are kept.
	ErrAlreadyEnded = errors.New("session already ended")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("user already has an active session")
)

// ConflictError reports the session that blocks a new start for the same user.
type ConflictError struct {
	ActiveSessionID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.ActiveSessionID == uuid.Nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), e.ActiveSessionID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
