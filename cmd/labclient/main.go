// Command labclient runs on a lab computer: it opens a session for the
// logged-in user, keeps it alive with heartbeats and ends it on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"labsessions/internal/config"
	"labsessions/internal/heartbeat"
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080/api/v1", "session API base URL")
	userID := flag.Int64("user", 0, "user id")
	computerID := flag.Int64("computer", 0, "computer id of this machine")
	interval := flag.Duration("interval", heartbeat.DefaultInterval, "heartbeat interval")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	token := os.Getenv("LAB_TOKEN")
	if token == "" || *userID <= 0 || *computerID <= 0 {
		log.Fatal("LAB_TOKEN, -user and -computer are required")
	}

	logger := config.NewLogger(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := heartbeat.New(*baseURL, token, logger)
	err := client.Run(ctx, *userID, *computerID, *interval)

	var conflict *heartbeat.ConflictError
	switch {
	case err == nil:
	case errors.As(err, &conflict):
		log.Fatalf("User already has an active session %s; ask an administrator to force-close it", conflict.ActiveSessionID)
	case errors.Is(err, heartbeat.ErrSessionGone):
		logger.Warn("session was ended by the server")
	default:
		log.Fatalf("Session client failed: %v", err)
	}
}
