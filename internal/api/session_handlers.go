package api

import (
	"net/http"
	"strconv"
	"time"

	"labsessions/internal/models"
	"labsessions/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type StartSessionRequest struct {
	UserID     int64 `json:"userId" example:"7"`
	ComputerID int64 `json:"computerId" example:"3"`
}

type EndSessionRequest struct {
	EndMethod models.EndMethod `json:"endMethod" swaggertype:"string" enums:"Normal,Forced,Timeout,Administrative" example:"Normal"`
}

type HeartbeatResponse struct {
	SessionID     uuid.UUID `json:"sessionId"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

type SessionPageResponse struct {
	Items      []models.SessionDescriptor `json:"items"`
	Total      int64                      `json:"total" example:"42"`
	Page       int                        `json:"page" example:"1"`
	PageSize   int                        `json:"pageSize" example:"20"`
	TotalPages int                        `json:"totalPages" example:"3"`
}

func (s *Server) describe(d models.SessionDetails) models.SessionDescriptor {
	return models.Describe(d, s.sessions.Now())
}

func (s *Server) describeAll(items []models.SessionDetails) []models.SessionDescriptor {
	out := make([]models.SessionDescriptor, 0, len(items))
	for _, d := range items {
		out = append(out, s.describe(d))
	}
	return out
}

// withNames adds user and computer names to a freshly written session. The
// write already succeeded, so a failed lookup only drops the names.
func (s *Server) withNames(r *http.Request, sess *models.Session) models.SessionDescriptor {
	details, err := s.sessions.Get(r.Context(), sess.ID)
	if err != nil {
		s.log.Warn("could not load session names", "session_id", sess.ID, "error", err)
		return s.describe(models.SessionDetails{Session: *sess})
	}
	return s.describe(*details)
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID format")
		return uuid.Nil, false
	}
	return id, true
}

// ownSession loads the session and checks the caller may act on it.
// It writes the response and returns false when it may not.
func (s *Server) ownSession(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*models.SessionDetails, bool) {
	details, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, err)
		return nil, false
	}
	if !canActFor(GetUserFromContext(r.Context()), details.UserID) {
		writeError(w, http.StatusForbidden, "Session belongs to another user")
		return nil, false
	}
	return details, true
}

// @Summary      Start a session
// @Description  Opens a session of a user on a lab computer. Fails with 409 and the id of the existing session when the user already has an active one.
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      StartSessionRequest  true  "User and computer"
// @Success      201      {object}  models.SessionDescriptor
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      409      {object}  ConflictResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /sessions/start [post]
func (s *Server) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !canActFor(GetUserFromContext(r.Context()), req.UserID) {
		writeError(w, http.StatusForbidden, "Cannot start a session for another user")
		return
	}

	sess, err := s.sessions.StartSession(r.Context(), req.UserID, req.ComputerID)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, s.withNames(r, sess))
}

// @Summary      End a session
// @Description  Ends an active session with the given method. The first end wins; ending an ended session returns 409 and keeps the stored end.
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        sessionId  path      string             true  "Session ID" format(uuid)
// @Param        request    body      EndSessionRequest  true  "End method"
// @Success      200        {object}  models.SessionDescriptor
// @Failure      400        {object}  ErrorResponse
// @Failure      403        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse
// @Failure      500        {object}  ErrorResponse
// @Router       /sessions/{sessionId}/end [put]
func (s *Server) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req EndSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, ok := s.ownSession(w, r, id); !ok {
		return
	}

	sess, err := s.sessions.EndSession(r.Context(), id, req.EndMethod)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.withNames(r, sess))
}

// @Summary      Session heartbeat
// @Description  Refreshes the last-seen time of an active session. Safe to repeat.
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        sessionId  path      string  true  "Session ID" format(uuid)
// @Success      200        {object}  HeartbeatResponse
// @Failure      400        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      500        {object}  ErrorResponse
// @Router       /sessions/{sessionId}/heartbeat [post]
func (s *Server) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	at, err := s.sessions.Heartbeat(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HeartbeatResponse{SessionID: id, LastHeartbeat: at})
}

// @Summary      Force close a user's sessions
// @Description  Ends every active session of the user with the Forced method.
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        userId  path      int  true  "User ID"
// @Success      200     {object}  session.ForceCloseResult
// @Failure      400     {object}  ErrorResponse
// @Failure      403     {object}  ErrorResponse
// @Failure      500     {object}  ErrorResponse
// @Router       /sessions/user/{userId}/force-close [post]
func (s *Server) ForceCloseHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	res, err := s.sessions.ForceCloseAllForUser(r.Context(), userID)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// @Summary      List active sessions
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   models.SessionDescriptor
// @Failure      403  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /sessions/active [get]
func (s *Server) ListActiveSessionsHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.sessions.ListActive(r.Context())
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describeAll(items))
}

// @Summary      List sessions
// @Description  Pages through sessions, newest first, optionally filtered by user, computer and activity.
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        userId      query     int   false  "User ID"
// @Param        computerId  query     int   false  "Computer ID"
// @Param        active      query     bool  false  "Only active or only ended sessions"
// @Param        page        query     int   false  "Page, starting at 1"
// @Param        pageSize    query     int   false  "Page size, at most 100"
// @Success      200         {object}  SessionPageResponse
// @Failure      400         {object}  ErrorResponse
// @Failure      403         {object}  ErrorResponse
// @Failure      500         {object}  ErrorResponse
// @Router       /sessions [get]
func (s *Server) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f session.Filter

	var err error
	if f.UserID, err = optionalInt(q.Get("userId")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'userId' parameter")
		return
	}
	if f.ComputerID, err = optionalInt(q.Get("computerId")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'computerId' parameter")
		return
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'active' parameter")
			return
		}
		f.Active = &active
	}
	if f.Page, err = intOrZero(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'page' parameter")
		return
	}
	if f.PageSize, err = intOrZero(q.Get("pageSize")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'pageSize' parameter")
		return
	}

	page, err := s.sessions.List(r.Context(), f)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionPageResponse{
		Items:      s.describeAll(page.Items),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	})
}

// @Summary      Get a session
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        sessionId  path      string  true  "Session ID" format(uuid)
// @Success      200        {object}  models.SessionDescriptor
// @Failure      400        {object}  ErrorResponse
// @Failure      403        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      500        {object}  ErrorResponse
// @Router       /sessions/{sessionId} [get]
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	details, ok := s.ownSession(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.describe(*details))
}

func optionalInt(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func intOrZero(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
