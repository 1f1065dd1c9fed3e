// Package session enforces the lifecycle of lab computer sessions: one active
// session per user, heartbeats on active sessions only, first-write-wins ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"labsessions/internal/database"
	"labsessions/internal/metrics"
	"labsessions/internal/models"

	"github.com/google/uuid"
)

// Store is the durable record store the manager works on. StartSession must
// reject a second active session for a user with database.ErrActiveSessionExists
// even when called concurrently.
type Store interface {
	UserIsActive(ctx context.Context, id int64) (bool, error)
	ComputerIsActive(ctx context.Context, id int64) (bool, error)

	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionDetails(ctx context.Context, id uuid.UUID) (*models.SessionDetails, error)
	GetActiveSessionForUser(ctx context.Context, userID int64) (*models.Session, error)

	StartSession(ctx context.Context, arg database.CreateSessionParams) (*models.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	EndSession(ctx context.Context, id uuid.UUID, method models.EndMethod, now time.Time) (*models.Session, error)
	EndUserSessions(ctx context.Context, userID int64, method models.EndMethod, now time.Time) ([]models.Session, error)
	EndIdleSessions(ctx context.Context, cutoff time.Time, method models.EndMethod, now time.Time) ([]models.Session, error)

	ListActiveSessions(ctx context.Context) ([]models.SessionDetails, error)
	ListSessions(ctx context.Context, filter database.SessionFilter) ([]models.SessionDetails, int64, error)
}

type Config struct {
	// HeartbeatTimeout is the idle period after which SweepStale ends a
	// session with the Timeout method. Zero disables sweeping.
	HeartbeatTimeout time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

type Manager struct {
	store            Store
	heartbeatTimeout time.Duration
	now              func() time.Time
	newID            func() uuid.UUID
	log              *slog.Logger
}

func NewManager(store Store, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:            store,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		now:              cfg.Now,
		newID:            uuid.New,
		log:              cfg.Logger.With("component", "session"),
	}
}

// StartSession opens a session of userID on computerID. When the user already
// has an active session a *ConflictError carrying its id is returned; the
// caller decides whether to force-close and retry.
func (m *Manager) StartSession(ctx context.Context, userID, computerID int64) (*models.Session, error) {
	if err := m.checkReferences(ctx, userID, computerID); err != nil {
		return nil, err
	}

	existing, err := m.store.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if existing != nil {
		return nil, &ConflictError{ActiveSessionID: existing.ID}
	}

	session, err := m.store.StartSession(ctx, database.CreateSessionParams{
		ID:         m.newID(),
		UserID:     userID,
		ComputerID: computerID,
		Now:        m.now(),
	})
	switch {
	case errors.Is(err, database.ErrActiveSessionExists):
		// Lost a race with a concurrent start; report the winner.
		return nil, m.conflictFor(ctx, userID)
	case errors.Is(err, database.ErrSessionReferenceNotFound):
		return nil, &ValidationError{Field: "userId", Message: "user or computer does not exist"}
	case err != nil:
		return nil, fmt.Errorf("start session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	m.log.Info("session started", "session_id", session.ID, "user_id", userID, "computer_id", computerID)
	return session, nil
}

func (m *Manager) checkReferences(ctx context.Context, userID, computerID int64) error {
	if userID <= 0 {
		return &ValidationError{Field: "userId", Message: "must be a positive id"}
	}
	if computerID <= 0 {
		return &ValidationError{Field: "computerId", Message: "must be a positive id"}
	}

	ok, err := m.store.UserIsActive(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !ok {
		return &ValidationError{Field: "userId", Message: fmt.Sprintf("user %d does not exist or is deactivated", userID)}
	}

	ok, err = m.store.ComputerIsActive(ctx, computerID)
	if err != nil {
		return fmt.Errorf("look up computer: %w", err)
	}
	if !ok {
		return &ValidationError{Field: "computerId", Message: fmt.Sprintf("computer %d does not exist or is deactivated", computerID)}
	}
	return nil
}

func (m *Manager) conflictFor(ctx context.Context, userID int64) error {
	existing, err := m.store.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("check active session: %w", err)
	}
	if existing == nil {
		return &ConflictError{}
	}
	return &ConflictError{ActiveSessionID: existing.ID}
}

// Heartbeat refreshes the last-seen time of an active session.
func (m *Manager) Heartbeat(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	now := m.now()
	ok, err := m.store.TouchSession(ctx, sessionID, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("heartbeat: %w", err)
	}
	if !ok {
		return time.Time{}, ErrNotFound
	}
	metrics.Heartbeats.Inc()
	return now, nil
}

// EndSession ends an active session with the given method. Ending it again
// returns ErrAlreadyEnded and leaves the stored end untouched.
func (m *Manager) EndSession(ctx context.Context, sessionID uuid.UUID, method models.EndMethod) (*models.Session, error) {
	if !method.Valid() {
		return nil, &ValidationError{Field: "endMethod", Message: "must be one of Normal, Forced, Timeout, Administrative"}
	}

	session, err := m.store.EndSession(ctx, sessionID, method, m.now())
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if session == nil {
		existing, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("end session: %w", err)
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyEnded
	}

	metrics.SessionsEnded.WithLabelValues(string(method)).Inc()
	m.log.Info("session ended", "session_id", sessionID, "user_id", session.UserID, "end_method", method)
	return session, nil
}

type ForceCloseResult struct {
	ClosedCount int         `json:"closedCount"`
	SessionIDs  []uuid.UUID `json:"sessionIds"`
}

// ForceCloseAllForUser ends every active session of userID with the Forced
// method. Having nothing to close is not an error.
func (m *Manager) ForceCloseAllForUser(ctx context.Context, userID int64) (ForceCloseResult, error) {
	sessions, err := m.store.EndUserSessions(ctx, userID, models.EndMethodForced, m.now())
	if err != nil {
		return ForceCloseResult{}, fmt.Errorf("force close: %w", err)
	}

	res := ForceCloseResult{ClosedCount: len(sessions), SessionIDs: make([]uuid.UUID, 0, len(sessions))}
	for _, s := range sessions {
		res.SessionIDs = append(res.SessionIDs, s.ID)
	}

	if res.ClosedCount > 0 {
		metrics.SessionsEnded.WithLabelValues(string(models.EndMethodForced)).Add(float64(res.ClosedCount))
		m.log.Info("sessions force closed", "user_id", userID, "count", res.ClosedCount)
	}
	return res, nil
}

func (m *Manager) Get(ctx context.Context, sessionID uuid.UUID) (*models.SessionDetails, error) {
	session, err := m.store.GetSessionDetails(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

func (m *Manager) ListActive(ctx context.Context) ([]models.SessionDetails, error) {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// Now exposes the manager's clock so callers compute durations consistently.
func (m *Manager) Now() time.Time {
	return m.now()
}
