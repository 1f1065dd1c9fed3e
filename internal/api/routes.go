package api

import (
	"net/http"

	"labsessions/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Routes builds the full HTTP surface of the service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Get("/health", s.HealthCheckHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.ServeWsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.LoginHandler)
		r.Post("/auth/verify", s.VerifyCodeHandler)
		r.Post("/auth/resend-code", s.ResendCodeHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware)

			r.Get("/me", s.GetCurrentUserHandler)
			r.Get("/events", s.GetEventsHandler)

			r.Post("/sessions/start", s.StartSessionHandler)
			r.Post("/sessions/{sessionId}/heartbeat", s.HeartbeatHandler)
			r.Put("/sessions/{sessionId}/end", s.EndSessionHandler)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/sessions", s.ListSessionsHandler)
				r.Get("/sessions/active", s.ListActiveSessionsHandler)
				r.Post("/sessions/user/{userId}/force-close", s.ForceCloseHandler)
			})

			r.Get("/sessions/{sessionId}", s.GetSessionHandler)
		})
	})

	return r
}
