package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nextlinkers/digicon/internal/config"
	"github.com/nextlinkers/digicon/internal/notify"
	"github.com/nextlinkers/digicon/internal/registration"
)

// Server represents the HTTP API server
type Server struct {
	config  config.ServerConfig
	router  *chi.Mux
	service registration.Service
	hub     *notify.Hub
	auth    *AdminAuth
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	service registration.Service,
	hub *notify.Hub,
	auth *AdminAuth,
) *Server {
	s := &Server{
		config:  cfg,
		service: service,
		hub:     hub,
		auth:    auth,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public surface: catalog view, registration, live events
		r.Get("/problems", s.handleListProblems)
		r.Post("/registrations", s.handleRegister)
		r.Get("/events", s.handleEventsWS)

		// Admin surface (session cookie auth)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.handleLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Require)

				r.Post("/logout", s.handleLogout)
				r.Get("/problems", s.handleAdminProblems)

				r.Route("/registrations", func(r chi.Router) {
					r.Get("/", s.handleListRegistrations)
					r.Get("/export", s.handleExportRegistrations)
					r.Delete("/{teamNumber}", s.handleDeleteRegistration)
				})

				r.Post("/catalog/replace", s.handleReplaceCatalog)
				r.Post("/catalog/import", s.handleImportCatalog)
				r.Post("/reset", s.handleReset)
				r.Get("/release", s.handleGetRelease)
				r.Put("/release", s.handleSetRelease)
				r.Post("/roster", s.handleUploadRoster)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
