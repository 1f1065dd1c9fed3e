// Package heartbeat is the lab machine side of a session: start it, keep it
// alive on a fixed interval and end it on shutdown.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"labsessions/internal/models"

	"github.com/google/uuid"
)

const DefaultInterval = 30 * time.Second

type startRequest struct {
	UserID     int64 `json:"userId"`
	ComputerID int64 `json:"computerId"`
}

type endRequest struct {
	EndMethod models.EndMethod `json:"endMethod"`
}

// Ack is the body of a successful heartbeat.
type Ack struct {
	SessionID     uuid.UUID `json:"sessionId"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a client for the API rooted at baseURL (including /api/v1).
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.With("component", "heartbeat"),
	}
}

// Start opens a session. A 409 is returned as *ConflictError.
func (c *Client) Start(ctx context.Context, userID, computerID int64) (*models.SessionDescriptor, error) {
	var s models.SessionDescriptor
	if err := c.doRequest(ctx, http.MethodPost, "/sessions/start", startRequest{UserID: userID, ComputerID: computerID}, &s); err != nil {
		return nil, fmt.Errorf("heartbeat.Start: %w", err)
	}
	return &s, nil
}

func (c *Client) Heartbeat(ctx context.Context, sessionID uuid.UUID) (*Ack, error) {
	var ack Ack
	if err := c.doRequest(ctx, http.MethodPost, "/sessions/"+sessionID.String()+"/heartbeat", nil, &ack); err != nil {
		return nil, fmt.Errorf("heartbeat.Heartbeat: %w", err)
	}
	return &ack, nil
}

func (c *Client) End(ctx context.Context, sessionID uuid.UUID, method models.EndMethod) (*models.SessionDescriptor, error) {
	var s models.SessionDescriptor
	if err := c.doRequest(ctx, http.MethodPut, "/sessions/"+sessionID.String()+"/end", endRequest{EndMethod: method}, &s); err != nil {
		return nil, fmt.Errorf("heartbeat.End: %w", err)
	}
	return &s, nil
}

// Run starts a session and sends a heartbeat every interval until ctx is
// cancelled, then ends the session with the Normal method. A failed heartbeat
// is logged and retried on the next tick. Run returns ErrSessionGone when the
// server answers a heartbeat with 404.
func (c *Client) Run(ctx context.Context, userID, computerID int64, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s, err := c.Start(ctx, userID, computerID)
	if err != nil {
		return err
	}
	c.log.Info("session started", "session_id", s.ID, "computer_id", computerID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown(s.ID)
		case <-ticker.C:
			if _, err := c.Heartbeat(ctx, s.ID); err != nil {
				if IsStatus(err, http.StatusNotFound) {
					c.log.Warn("session ended by server", "session_id", s.ID)
					return ErrSessionGone
				}
				if ctx.Err() != nil {
					return c.shutdown(s.ID)
				}
				c.log.Warn("heartbeat failed", "session_id", s.ID, "error", err)
			}
		}
	}
}

func (c *Client) shutdown(sessionID uuid.UUID) error {
	// The run context is already done; give the final request its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
	defer cancel()

	_, err := c.End(ctx, sessionID, models.EndMethodNormal)
	if err != nil && !IsStatus(err, http.StatusConflict) && !IsStatus(err, http.StatusNotFound) {
		return err
	}
	c.log.Info("session ended", "session_id", sessionID)
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error           string    `json:"error"`
			ActiveSessionID uuid.UUID `json:"activeSessionId"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
			if resp.StatusCode == http.StatusConflict && apiErr.ActiveSessionID != uuid.Nil {
				return fmt.Errorf("%w: %w", &ConflictError{ActiveSessionID: apiErr.ActiveSessionID, Message: apiErr.Error}, httpErr)
			}
			return httpErr
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
