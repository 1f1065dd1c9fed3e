package api

import (
	"log/slog"

	"labsessions/internal/auth"
	"labsessions/internal/config"
	"labsessions/internal/database"
	"labsessions/internal/session"
	"labsessions/internal/websocket"
)

type Server struct {
	config   *config.Config
	store    *database.Store
	sessions *session.Manager
	auth     *auth.Coordinator
	wsHub    *websocket.Hub
	log      *slog.Logger
}

func NewServer(cfg *config.Config, store *database.Store, sessions *session.Manager, coordinator *auth.Coordinator, wsHub *websocket.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		store:    store,
		sessions: sessions,
		auth:     coordinator,
		wsHub:    wsHub,
		log:      logger.With("component", "api"),
	}
}
