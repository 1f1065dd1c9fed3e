package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"labsessions/internal/auth"
	"labsessions/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	models.User
	Password string
	Token    string
}

func createTestUser(t *testing.T, role string, twoFactor bool) *testUser {
	t.Helper()
	name := "user_" + uuid.NewString()[:8]
	password := "secret-" + name
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	u := &testUser{Password: password}
	u.Username = name
	u.Email = name + "@lab.edu"
	u.Role = role
	u.TwoFactorEnabled = twoFactor
	err = testPool.QueryRow(context.Background(),
		`INSERT INTO users (username, email, password_hash, role, two_factor_enabled) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Username, u.Email, hash, role, twoFactor).Scan(&u.ID)
	require.NoError(t, err)

	u.Token, _, err = testIssuer.Issue(u.ID, []string{role}, map[string]string{"username": name})
	require.NoError(t, err)
	return u
}

func createTestComputer(t *testing.T) models.Computer {
	t.Helper()
	c := models.Computer{Name: "pc-" + uuid.NewString()[:8], IsActive: true}
	err := testPool.QueryRow(context.Background(),
		`INSERT INTO computers (name) VALUES ($1) RETURNING id`, c.Name).Scan(&c.ID)
	require.NoError(t, err)
	return c
}

func doJSON(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, testHTTP.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func startSession(t *testing.T, u *testUser, computerID int64) models.SessionDescriptor {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, "/api/v1/sessions/start", u.Token, StartSessionRequest{UserID: u.ID, ComputerID: computerID})
	require.Equal(t, http.StatusCreated, status, string(body))
	return decode[models.SessionDescriptor](t, body)
}

func sessionPath(id uuid.UUID, suffix string) string {
	return fmt.Sprintf("/api/v1/sessions/%s%s", id, suffix)
}
