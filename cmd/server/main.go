// @title           Lab Sessions API
// @version         1.0
// @description     Tracks which user occupies which lab computer, with heartbeats and two-factor login.
// @host            localhost:8080
// @schemes         http https
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labsessions/internal/api"
	"labsessions/internal/auth"
	"labsessions/internal/config"
	"labsessions/internal/database"
	"labsessions/internal/session"
	"labsessions/internal/verification"
	"labsessions/internal/websocket"

	"github.com/jackc/pgx/v5/pgxpool"

	_ "labsessions/docs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := pgxpool.New(ctx, cfg.DB.Source)
	if err != nil {
		log.Fatalf("Could not connect to the database: %v", err)
	}
	defer dbpool.Close()

	if err := dbpool.Ping(ctx); err != nil {
		log.Fatalf("Could not ping the database: %v", err)
	}
	logger.Info("connected to database")

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	store := database.NewStore(dbpool, wsHub)

	sessions := session.NewManager(store, session.Config{
		HeartbeatTimeout: cfg.Session.HeartbeatTimeout,
		Logger:           logger,
	})
	go sessions.RunSweeper(ctx, cfg.Session.SweepInterval)

	codes := verification.NewStore(verification.Config{
		CodeTTL:     cfg.Verification.CodeTTL,
		MaxAttempts: cfg.Verification.MaxAttempts,
		GraceWindow: cfg.Verification.GraceWindow,
		Now:         time.Now,
	})
	go codes.Run(ctx, cfg.Verification.SweepInterval)

	issuer, err := auth.NewJWTIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		log.Fatalf("Could not create token issuer: %v", err)
	}

	var mail auth.EmailSender = auth.LogSender{Logger: logger}
	if cfg.SMTP.Host != "" {
		mail = auth.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}

	coordinator := auth.NewCoordinator(store, auth.BcryptVerifier{}, issuer, mail, codes, auth.CoordinatorConfig{
		Require2FA: cfg.Auth.Require2FA,
		Logger:     logger,
	})

	server := api.NewServer(cfg, store, sessions, coordinator, wsHub, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Could not start server: %v", err)
	}
	logger.Info("server stopped")
}
