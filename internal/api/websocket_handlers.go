package api

import (
	"net/http"

	"labsessions/internal/auth"
	"labsessions/internal/models"
	"labsessions/internal/websocket"
)

// ServeWsHandler upgrades to a websocket that streams session events. Admins
// receive the events of every user.
func (s *Server) ServeWsHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		writeError(w, http.StatusUnauthorized, "token query parameter required")
		return
	}

	claims, err := auth.VerifyJWT(tokenString, s.config.JWT.Secret)
	if err != nil {
		s.log.Warn("websocket connection with invalid token", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	conn, err := websocket.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := websocket.NewClient(s.wsHub, conn, claims.UserID, claims.HasRole(models.RoleAdmin))
	s.wsHub.Register <- client

	go client.ReadPump()
	go client.WritePump()
}
