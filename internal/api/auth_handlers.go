package api

import (
	"net/http"
	"time"

	"labsessions/internal/auth"
)

type LoginRequest struct {
	Username string `json:"username" example:"jkowalski"`
	Password string `json:"password" example:"password123"`
}

type VerifyCodeRequest struct {
	UserID int64  `json:"userId" example:"7"`
	Code   string `json:"code" example:"042913"`
}

type ResendCodeRequest struct {
	UserID int64 `json:"userId" example:"7"`
}

// LoginResponse carries a token, or with RequiresVerification the masked
// address the code was sent to.
type LoginResponse struct {
	RequiresVerification bool       `json:"requiresVerification"`
	UserID               int64      `json:"userId" example:"7"`
	Username             string     `json:"username,omitempty" example:"jkowalski"`
	Roles                []string   `json:"roles,omitempty"`
	MaskedEmail          string     `json:"maskedEmail,omitempty" example:"j***@lab.edu"`
	Token                string     `json:"token,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
}

type ResendCodeResponse struct {
	MaskedEmail string `json:"maskedEmail" example:"j***@lab.edu"`
}

// @Summary      Log in
// @Description  Checks the password. Accounts with two-factor login get an emailed code and must call /auth/verify; others get a token directly.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      LoginRequest  true  "Credentials"
// @Success      200      {object}  LoginResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /auth/login [post]
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, newLoginResponse(res))
}

// @Summary      Verify a login code
// @Description  Completes a two-factor login. Wrong, expired, used and exhausted codes are rejected with the reason.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      VerifyCodeRequest  true  "User and code"
// @Success      200      {object}  LoginResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /auth/verify [post]
func (s *Server) VerifyCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.auth.VerifyCode(r.Context(), req.UserID, req.Code)
	if err != nil {
		s.writeAuthError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, newLoginResponse(res))
}

// @Summary      Resend a login code
// @Description  Replaces the pending code of a user waiting for verification and emails the new one.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      ResendCodeRequest  true  "User"
// @Success      200      {object}  ResendCodeResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /auth/resend-code [post]
func (s *Server) ResendCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req ResendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	masked, err := s.auth.ResendCode(r.Context(), req.UserID)
	if err != nil {
		s.writeAuthError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, ResendCodeResponse{MaskedEmail: masked})
}

func newLoginResponse(res *auth.LoginResult) LoginResponse {
	resp := LoginResponse{
		RequiresVerification: res.RequiresVerification,
		UserID:               res.UserID,
		Username:             res.Username,
		Roles:                res.Roles,
		MaskedEmail:          res.MaskedEmail,
		Token:                res.Token,
	}
	if !res.ExpiresAt.IsZero() {
		expiresAt := res.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}
