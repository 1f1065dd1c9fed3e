package api

import (
	"net/http"

	_ "labsessions/internal/auth"
)

// @Summary      Get current user info
// @Description  Returns the claims of the caller's token.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  auth.AppClaims
// @Failure      401  {object}  ErrorResponse
// @Router       /me [get]
func (s *Server) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Could not retrieve user from token")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
