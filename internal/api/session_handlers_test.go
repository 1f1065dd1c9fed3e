package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"labsessions/internal/models"
	"labsessions/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func activeCount(t *testing.T, userID int64) int {
	t.Helper()
	var n int
	err := testPool.QueryRow(context.Background(),
		`SELECT count(*) FROM sessions WHERE user_id = $1 AND is_active`, userID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestAPI_StartSession_ConflictNamesActiveSession(t *testing.T) {
	u := createTestUser(t, "student", false)
	pc1 := createTestComputer(t)
	pc2 := createTestComputer(t)

	first := startSession(t, u, pc1.ID)
	require.True(t, first.IsActive)
	require.Equal(t, u.Username, first.UserName)
	require.Equal(t, pc1.Name, first.ComputerName)
	require.NotNil(t, first.DurationMinutes)
	require.Nil(t, first.EndDateTime)

	status, body := doJSON(t, http.MethodPost, "/api/v1/sessions/start", u.Token, StartSessionRequest{UserID: u.ID, ComputerID: pc2.ID})
	require.Equal(t, http.StatusConflict, status)
	conflict := decode[ConflictResponse](t, body)
	require.Equal(t, first.ID, conflict.ActiveSessionID)
	require.Equal(t, 1, activeCount(t, u.ID))
}

func TestAPI_StartSession_ConcurrentSameUser(t *testing.T) {
	u := createTestUser(t, "student", false)
	pc := createTestComputer(t)

	const callers = 16
	body := fmt.Sprintf(`{"userId":%d,"computerId":%d}`, u.ID, pc.ID)
	var wg sync.WaitGroup
	statuses := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, testHTTP.URL+"/api/v1/sessions/start", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+u.Token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, s := range statuses {
		switch s {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	require.Equal(t, 1, created)
	require.Equal(t, callers-1, conflicts)
	require.Equal(t, 1, activeCount(t, u.ID))
}

func TestAPI_StartSession_Rejected(t *testing.T) {
	u := createTestUser(t, "student", false)
	other := createTestUser(t, "student", false)
	pc := createTestComputer(t)

	status, _ := doJSON(t, http.MethodPost, "/api/v1/sessions/start", u.Token, StartSessionRequest{UserID: u.ID, ComputerID: 987654})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, "/api/v1/sessions/start", u.Token, StartSessionRequest{UserID: other.ID, ComputerID: pc.ID})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, http.MethodPost, "/api/v1/sessions/start", "", StartSessionRequest{UserID: u.ID, ComputerID: pc.ID})
	require.Equal(t, http.StatusUnauthorized, status)

	_, err := testPool.Exec(context.Background(), `UPDATE computers SET is_active = FALSE WHERE id = $1`, pc.ID)
	require.NoError(t, err)
	status, _ = doJSON(t, http.MethodPost, "/api/v1/sessions/start", u.Token, StartSessionRequest{UserID: u.ID, ComputerID: pc.ID})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, 0, activeCount(t, u.ID))
}

func TestAPI_Heartbeat(t *testing.T) {
	u := createTestUser(t, "student", false)
	s := startSession(t, u, createTestComputer(t).ID)

	status, body := doJSON(t, http.MethodPost, sessionPath(s.ID, "/heartbeat"), u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	ack := decode[HeartbeatResponse](t, body)
	require.Equal(t, s.ID, ack.SessionID)
	require.False(t, ack.LastHeartbeat.Before(s.StartDateTime))

	status, _ = doJSON(t, http.MethodPost, sessionPath(uuid.New(), "/heartbeat"), u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodPost, "/api/v1/sessions/not-a-uuid/heartbeat", u.Token, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_EndSession_FirstWriteWins(t *testing.T) {
	u := createTestUser(t, "student", false)
	admin := createTestUser(t, models.RoleAdmin, false)
	s := startSession(t, u, createTestComputer(t).ID)

	status, _ := doJSON(t, http.MethodPut, sessionPath(s.ID, "/end"), u.Token, EndSessionRequest{})
	require.Equal(t, http.StatusBadRequest, status, "endMethod is required")

	status, body := doJSON(t, http.MethodPut, sessionPath(s.ID, "/end"), u.Token, EndSessionRequest{EndMethod: models.EndMethodNormal})
	require.Equal(t, http.StatusOK, status)
	ended := decode[models.SessionDescriptor](t, body)
	require.False(t, ended.IsActive)
	require.Equal(t, models.EndMethodNormal, *ended.EndMethod)
	require.NotNil(t, ended.EndDateTime)
	require.NotNil(t, ended.DurationMinutes)

	status, _ = doJSON(t, http.MethodPut, sessionPath(s.ID, "/end"), admin.Token, EndSessionRequest{EndMethod: models.EndMethodAdministrative})
	require.Equal(t, http.StatusConflict, status)

	status, body = doJSON(t, http.MethodGet, sessionPath(s.ID, ""), u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	stored := decode[models.SessionDescriptor](t, body)
	require.Equal(t, models.EndMethodNormal, *stored.EndMethod)
	require.Equal(t, ended.EndDateTime.UnixMicro(), stored.EndDateTime.UnixMicro())

	status, _ = doJSON(t, http.MethodPost, sessionPath(s.ID, "/heartbeat"), u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodPut, sessionPath(uuid.New(), "/end"), u.Token, EndSessionRequest{EndMethod: models.EndMethodNormal})
	require.Equal(t, http.StatusNotFound, status)
}

func TestAPI_EndSession_OtherUsersSession(t *testing.T) {
	owner := createTestUser(t, "student", false)
	intruder := createTestUser(t, "student", false)
	s := startSession(t, owner, createTestComputer(t).ID)

	status, _ := doJSON(t, http.MethodPut, sessionPath(s.ID, "/end"), intruder.Token, EndSessionRequest{EndMethod: models.EndMethodNormal})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, 1, activeCount(t, owner.ID))
}

func TestAPI_ForceClose(t *testing.T) {
	u := createTestUser(t, "student", false)
	admin := createTestUser(t, models.RoleAdmin, false)
	pc := createTestComputer(t)
	s := startSession(t, u, pc.ID)

	path := fmt.Sprintf("/api/v1/sessions/user/%d/force-close", u.ID)
	status, _ := doJSON(t, http.MethodPost, path, u.Token, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, body := doJSON(t, http.MethodPost, path, admin.Token, nil)
	require.Equal(t, http.StatusOK, status)
	res := decode[session.ForceCloseResult](t, body)
	require.Equal(t, 1, res.ClosedCount)
	require.Equal(t, []uuid.UUID{s.ID}, res.SessionIDs)

	status, body = doJSON(t, http.MethodPost, path, admin.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, decode[session.ForceCloseResult](t, body).ClosedCount)

	startSession(t, u, pc.ID)
}

func TestAPI_ListSessions(t *testing.T) {
	u := createTestUser(t, "student", false)
	admin := createTestUser(t, models.RoleAdmin, false)
	pc := createTestComputer(t)

	for i := 0; i < 3; i++ {
		s := startSession(t, u, pc.ID)
		status, _ := doJSON(t, http.MethodPut, sessionPath(s.ID, "/end"), u.Token, EndSessionRequest{EndMethod: models.EndMethodNormal})
		require.Equal(t, http.StatusOK, status)
	}
	active := startSession(t, u, pc.ID)

	status, _ := doJSON(t, http.MethodGet, "/api/v1/sessions", u.Token, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, body := doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions?userId=%d&page=2&pageSize=3", u.ID), admin.Token, nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[SessionPageResponse](t, body)
	require.Equal(t, int64(4), page.Total)
	require.Equal(t, 2, page.Page)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)

	status, body = doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions?userId=%d&active=true", u.ID), admin.Token, nil)
	require.Equal(t, http.StatusOK, status)
	page = decode[SessionPageResponse](t, body)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, active.ID, page.Items[0].ID)

	status, _ = doJSON(t, http.MethodGet, "/api/v1/sessions?active=maybe", admin.Token, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = doJSON(t, http.MethodGet, "/api/v1/sessions/active", admin.Token, nil)
	require.Equal(t, http.StatusOK, status)
	found := false
	for _, d := range decode[[]models.SessionDescriptor](t, body) {
		require.True(t, d.IsActive)
		if d.ID == active.ID {
			found = true
		}
	}
	require.True(t, found)
}

func withRouteParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetSessionHandler_InjectedClaims(t *testing.T) {
	owner := createTestUser(t, "student", false)
	other := createTestUser(t, "student", false)
	s := startSession(t, owner, createTestComputer(t).ID)

	ownerClaims, err := testIssuer.Verify(owner.Token)
	require.NoError(t, err)
	otherClaims, err := testIssuer.Verify(other.Token)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, sessionPath(s.ID, ""), nil)
	req = withRouteParam(req, "sessionId", s.ID.String())
	rr := httptest.NewRecorder()
	http.HandlerFunc(testServer.GetSessionHandler).ServeHTTP(rr, req.WithContext(context.WithValue(req.Context(), userContextKey, ownerClaims)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, s.ID, decode[models.SessionDescriptor](t, rr.Body.Bytes()).ID)

	rr = httptest.NewRecorder()
	http.HandlerFunc(testServer.GetSessionHandler).ServeHTTP(rr, req.WithContext(context.WithValue(req.Context(), userContextKey, otherClaims)))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAdmin(t *testing.T) {
	student := createTestUser(t, "student", false)
	admin := createTestUser(t, models.RoleAdmin, false)

	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for _, tc := range []struct {
		token string
		want  int
	}{
		{student.Token, http.StatusForbidden},
		{admin.Token, http.StatusTeapot},
	} {
		claims, err := testIssuer.Verify(tc.token)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req = req.WithContext(context.WithValue(req.Context(), userContextKey, claims))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, tc.want, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
