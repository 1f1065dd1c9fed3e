package session

import (
	"context"
	"fmt"
	"time"

	"labsessions/internal/metrics"
	"labsessions/internal/models"
)

// SweepStale ends, with the Timeout method, every active session whose last
// heartbeat is older than the configured heartbeat timeout.
func (m *Manager) SweepStale(ctx context.Context) ([]models.Session, error) {
	if m.heartbeatTimeout <= 0 {
		return nil, nil
	}

	now := m.now()
	sessions, err := m.store.EndIdleSessions(ctx, now.Add(-m.heartbeatTimeout), models.EndMethodTimeout, now)
	if err != nil {
		return nil, fmt.Errorf("sweep stale sessions: %w", err)
	}

	if len(sessions) > 0 {
		metrics.SessionsEnded.WithLabelValues(string(models.EndMethodTimeout)).Add(float64(len(sessions)))
		for _, s := range sessions {
			m.log.Info("session timed out", "session_id", s.ID, "user_id", s.UserID, "last_heartbeat", s.LastHeartbeat)
		}
	}
	return sessions, nil
}

// RunSweeper calls SweepStale on every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if m.heartbeatTimeout <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepStale(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("stale session sweep failed", "error", err)
			}
		}
	}
}
