package database

import (
	"context"
	"errors"
	"fmt"
	"labsessions/internal/models"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrActiveSessionExists = errors.New("user already has an active session")
var ErrSessionReferenceNotFound = errors.New("session user or computer does not exist")

const activeSessionIndex = "sessions_one_active_per_user"

const sessionColumns = `
	s.id, s.user_id, s.computer_id, s.start_time, s.end_time,
	s.is_active, s.end_method, s.last_heartbeat, s.created_at, s.updated_at
`

type CreateSessionParams struct {
	ID         uuid.UUID
	UserID     int64
	ComputerID int64
	Now        time.Time
}

type SessionFilter struct {
	UserID     *int64
	ComputerID *int64
	Active     *bool
	Limit      int
	Offset     int
}

func sessionDest(s *models.Session, endMethod **string) []interface{} {
	return []interface{}{
		&s.ID, &s.UserID, &s.ComputerID, &s.StartTime, &s.EndTime,
		&s.IsActive, endMethod, &s.LastHeartbeat, &s.CreatedAt, &s.UpdatedAt,
	}
}

func setEndMethod(s *models.Session, endMethod *string) {
	if endMethod != nil {
		m := models.EndMethod(*endMethod)
		s.EndMethod = &m
	}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	var endMethod *string
	if err := row.Scan(sessionDest(&session, &endMethod)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	setEndMethod(&session, endMethod)
	return &session, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		var endMethod *string
		if err := rows.Scan(sessionDest(&session, &endMethod)...); err != nil {
			return nil, err
		}
		setEndMethod(&session, endMethod)
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if sessions == nil {
		return []models.Session{}, nil
	}
	return sessions, nil
}

func collectSessionDetails(rows pgx.Rows) ([]models.SessionDetails, error) {
	defer rows.Close()

	var sessions []models.SessionDetails
	for rows.Next() {
		var d models.SessionDetails
		var endMethod *string
		dest := append(sessionDest(&d.Session, &endMethod), &d.UserName, &d.ComputerName)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		setEndMethod(&d.Session, endMethod)
		sessions = append(sessions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if sessions == nil {
		return []models.SessionDetails{}, nil
	}
	return sessions, nil
}

func (q *Queries) InsertSession(ctx context.Context, arg CreateSessionParams) (*models.Session, error) {
	query := `
		INSERT INTO sessions AS s (id, user_id, computer_id, start_time, is_active, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $4, $4, $4)
		RETURNING ` + sessionColumns

	session, err := scanSession(q.db.QueryRow(ctx, query, arg.ID, arg.UserID, arg.ComputerID, arg.Now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSessionIndex {
			return nil, ErrActiveSessionExists
		}
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrSessionReferenceNotFound
		}
		return nil, err
	}
	return session, nil
}

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.id = $1`
	return scanSession(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetSessionDetails(ctx context.Context, id uuid.UUID) (*models.SessionDetails, error) {
	query := `
		SELECT ` + sessionColumns + `, u.username, c.name
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		JOIN computers c ON c.id = s.computer_id
		WHERE s.id = $1
	`
	rows, err := q.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	sessions, err := collectSessionDetails(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func (q *Queries) GetActiveSessionForUser(ctx context.Context, userID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.user_id = $1 AND s.is_active`
	return scanSession(q.db.QueryRow(ctx, query, userID))
}

// TouchSession refreshes last_heartbeat of an active session. It reports false
// when the session does not exist or has already ended.
func (q *Queries) TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := q.db.Exec(ctx, `UPDATE sessions SET last_heartbeat = $2 WHERE id = $1 AND is_active`, id, now)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// EndSessionByID ends the session only if it is still active; nil means no row matched.
func (q *Queries) EndSessionByID(ctx context.Context, id uuid.UUID, method models.EndMethod, now time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions AS s
		SET end_time = $3, is_active = FALSE, end_method = $2, updated_at = $3
		WHERE s.id = $1 AND s.is_active
		RETURNING ` + sessionColumns
	return scanSession(q.db.QueryRow(ctx, query, id, string(method), now))
}

func (q *Queries) EndActiveSessionsByUser(ctx context.Context, userID int64, method models.EndMethod, now time.Time) ([]models.Session, error) {
	query := `
		UPDATE sessions AS s
		SET end_time = $3, is_active = FALSE, end_method = $2, updated_at = $3
		WHERE s.user_id = $1 AND s.is_active
		RETURNING ` + sessionColumns
	rows, err := q.db.Query(ctx, query, userID, string(method), now)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// EndSessionsIdleSince ends every active session whose last heartbeat is older than cutoff.
func (q *Queries) EndSessionsIdleSince(ctx context.Context, cutoff time.Time, method models.EndMethod, now time.Time) ([]models.Session, error) {
	query := `
		UPDATE sessions AS s
		SET end_time = $3, is_active = FALSE, end_method = $2, updated_at = $3
		WHERE s.is_active AND s.last_heartbeat < $1
		RETURNING ` + sessionColumns
	rows, err := q.db.Query(ctx, query, cutoff, string(method), now)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (q *Queries) ListActiveSessions(ctx context.Context) ([]models.SessionDetails, error) {
	query := `
		SELECT ` + sessionColumns + `, u.username, c.name
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		JOIN computers c ON c.id = s.computer_id
		WHERE s.is_active
		ORDER BY s.start_time DESC
	`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return collectSessionDetails(rows)
}

func (q *Queries) ListSessions(ctx context.Context, filter SessionFilter) ([]models.SessionDetails, int64, error) {
	var conds []string
	var args []interface{}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("s.user_id = $%d", len(args)))
	}
	if filter.ComputerID != nil {
		args = append(args, *filter.ComputerID)
		conds = append(conds, fmt.Sprintf("s.computer_id = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("s.is_active = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM sessions s `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s, u.username, c.name
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		JOIN computers c ON c.id = s.computer_id
		%s
		ORDER BY s.start_time DESC
		LIMIT $%d OFFSET $%d
	`, sessionColumns, where, len(args)-1, len(args))

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	sessions, err := collectSessionDetails(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

type sessionEventPayload struct {
	SessionID  uuid.UUID         `json:"session_id"`
	ComputerID int64             `json:"computer_id"`
	EndMethod  *models.EndMethod `json:"end_method,omitempty"`
	At         time.Time         `json:"at"`
}

func logSessionEvent(ctx context.Context, q *Queries, eventType string, s *models.Session, at time.Time) (journalEvent, error) {
	data, err := q.LogEvent(ctx, s.UserID, eventType, sessionEventPayload{
		SessionID:  s.ID,
		ComputerID: s.ComputerID,
		EndMethod:  s.EndMethod,
		At:         at,
	})
	if err != nil {
		return journalEvent{}, err
	}
	return journalEvent{userID: s.UserID, data: data}, nil
}

// StartSession inserts a new active session and its journal entry in one transaction.
func (s *Store) StartSession(ctx context.Context, arg CreateSessionParams) (*models.Session, error) {
	var session *models.Session
	var events []journalEvent

	err := s.ExecTx(ctx, func(q *Queries) error {
		var err error
		session, err = q.InsertSession(ctx, arg)
		if err != nil {
			return err
		}
		e, err := logSessionEvent(ctx, q, EventSessionStarted, session, arg.Now)
		if err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	return session, nil
}

// EndSession ends one session if it is still active; nil means no active row matched.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, method models.EndMethod, now time.Time) (*models.Session, error) {
	var session *models.Session
	var events []journalEvent

	err := s.ExecTx(ctx, func(q *Queries) error {
		var err error
		session, err = q.EndSessionByID(ctx, id, method, now)
		if err != nil || session == nil {
			return err
		}
		e, err := logSessionEvent(ctx, q, EventSessionEnded, session, now)
		if err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	return session, nil
}

func (s *Store) endMany(ctx context.Context, end func(q *Queries) ([]models.Session, error), now time.Time) ([]models.Session, error) {
	var sessions []models.Session
	var events []journalEvent

	err := s.ExecTx(ctx, func(q *Queries) error {
		var err error
		sessions, err = end(q)
		if err != nil {
			return err
		}
		for i := range sessions {
			e, err := logSessionEvent(ctx, q, EventSessionEnded, &sessions[i], now)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	return sessions, nil
}

func (s *Store) EndUserSessions(ctx context.Context, userID int64, method models.EndMethod, now time.Time) ([]models.Session, error) {
	return s.endMany(ctx, func(q *Queries) ([]models.Session, error) {
		return q.EndActiveSessionsByUser(ctx, userID, method, now)
	}, now)
}

func (s *Store) EndIdleSessions(ctx context.Context, cutoff time.Time, method models.EndMethod, now time.Time) ([]models.Session, error) {
	return s.endMany(ctx, func(q *Queries) ([]models.Session, error) {
		return q.EndSessionsIdleSince(ctx, cutoff, method, now)
	}, now)
}
