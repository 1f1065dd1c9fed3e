package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"labsessions/internal/database"
	"labsessions/internal/models"

	"github.com/google/uuid"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Store. Like the partial unique index in
// PostgreSQL, StartSession itself rejects a second active session per user.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]bool
	computers map[int64]bool
	sessions  map[uuid.UUID]*models.Session
	order     []uuid.UUID

	// hideActive makes GetActiveSessionForUser miss existing rows, simulating a
	// start that passed the pre-check just before a concurrent insert committed.
	hideActive bool
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]bool{7: true, 8: true, 9: true, 99: false},
		computers: map[int64]bool{3: true, 9: true, 42: false},
		sessions:  make(map[uuid.UUID]*models.Session),
	}
}

func (s *memStore) UserIsActive(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *memStore) ComputerIsActive(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.computers[id], nil
}

func (s *memStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetSessionDetails(ctx context.Context, id uuid.UUID) (*models.SessionDetails, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	return &models.SessionDetails{Session: *sess, UserName: "user", ComputerName: "pc"}, nil
}

func (s *memStore) GetActiveSessionForUser(_ context.Context, userID int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideActive {
		return nil, nil
	}
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) StartSession(_ context.Context, arg database.CreateSessionParams) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errStoreDown
	}
	for _, sess := range s.sessions {
		if sess.UserID == arg.UserID && sess.IsActive {
			return nil, database.ErrActiveSessionExists
		}
	}
	sess := &models.Session{
		ID:            arg.ID,
		UserID:        arg.UserID,
		ComputerID:    arg.ComputerID,
		StartTime:     arg.Now,
		IsActive:      true,
		LastHeartbeat: arg.Now,
		CreatedAt:     arg.Now,
		UpdatedAt:     arg.Now,
	}
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	cp := *sess
	return &cp, nil
}

func (s *memStore) TouchSession(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.IsActive {
		return false, nil
	}
	sess.LastHeartbeat = now
	return true, nil
}

func endLocked(sess *models.Session, method models.EndMethod, now time.Time) {
	end := now
	m := method
	sess.EndTime = &end
	sess.IsActive = false
	sess.EndMethod = &m
	sess.UpdatedAt = now
}

func (s *memStore) EndSession(_ context.Context, id uuid.UUID, method models.EndMethod, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errStoreDown
	}
	sess, ok := s.sessions[id]
	if !ok || !sess.IsActive {
		return nil, nil
	}
	endLocked(sess, method, now)
	cp := *sess
	return &cp, nil
}

func (s *memStore) endWhere(match func(*models.Session) bool, method models.EndMethod, now time.Time) []models.Session {
	ended := []models.Session{}
	for _, id := range s.order {
		sess := s.sessions[id]
		if sess.IsActive && match(sess) {
			endLocked(sess, method, now)
			ended = append(ended, *sess)
		}
	}
	return ended
}

func (s *memStore) EndUserSessions(_ context.Context, userID int64, method models.EndMethod, now time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endWhere(func(sess *models.Session) bool { return sess.UserID == userID }, method, now), nil
}

func (s *memStore) EndIdleSessions(_ context.Context, cutoff time.Time, method models.EndMethod, now time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endWhere(func(sess *models.Session) bool { return sess.LastHeartbeat.Before(cutoff) }, method, now), nil
}

func (s *memStore) ListActiveSessions(_ context.Context) ([]models.SessionDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.SessionDetails{}
	for _, id := range s.order {
		if sess := s.sessions[id]; sess.IsActive {
			out = append(out, models.SessionDetails{Session: *sess})
		}
	}
	return out, nil
}

func (s *memStore) ListSessions(_ context.Context, f database.SessionFilter) ([]models.SessionDetails, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.SessionDetails
	for _, id := range s.order {
		sess := s.sessions[id]
		if f.UserID != nil && sess.UserID != *f.UserID {
			continue
		}
		if f.ComputerID != nil && sess.ComputerID != *f.ComputerID {
			continue
		}
		if f.Active != nil && sess.IsActive != *f.Active {
			continue
		}
		all = append(all, models.SessionDetails{Session: *sess})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	total := int64(len(all))
	if f.Offset >= len(all) {
		return []models.SessionDetails{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[f.Offset:end], total, nil
}

func (s *memStore) activeCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive {
			n++
		}
	}
	return n
}
