// Package http exposes the hub over HTTP: the WebSocket upgrade endpoint,
// a health check, and the internal REST surface through which the CRUD
// tier (a separate process) triggers dispatches and queries presence.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default "0.0.0.0").
	Host string

	// Port - port to listen on (default 8080).
	Port int

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response. Zero
	// disables it: the WebSocket endpoint shares this server and a write
	// timeout would sever long-lived connections.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle keep-alive connections.
	IdleTimeout time.Duration

	// WSPath is the upgrade endpoint path.
	WSPath string

	// APIKeyHash is the bcrypt hash of the internal API key. Empty
	// disables the internal surface entirely.
	APIKeyHash string

	// MaxPayloadBytes caps the size of one dispatch payload.
	MaxPayloadBytes int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		WSPath:          "/ws/notifications",
		MaxPayloadBytes: 64 * 1024,
	}
}

// Address returns the listen address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Dependencies contains everything the handlers need.
type Dependencies struct {
	// Hub is the WebSocket upgrade handler.
	Hub http.Handler

	// Dispatcher performs deliveries for the internal notify endpoints.
	Dispatcher *presence.Dispatcher

	// Registry answers the internal presence queries.
	Registry *presence.Registry

	Logger *logger.Logger
}

// Server is the HTTP server.
type Server struct {
	cfg        Config
	deps       Dependencies
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates the server and mounts all routes.
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws/notifications"
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 64 * 1024
	}
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logger.Component("http")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle(cfg.WSPath, deps.Hub)

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post("/notify/students", s.handleBroadcastStudents)
		r.Post("/notify/students/{studentID}", s.handleNotifyStudent)
		r.Post("/notify/staff", s.handleNotifyAllStaff)
		r.Post("/notify/staff/{role}", s.handleNotifyStaffRole)
		r.Post("/notify/users/{userID}", s.handleNotifyStaffUser)

		r.Get("/presence/online", s.handleOnlineSnapshot)
		r.Get("/presence/students/{studentID}", s.handleStudentOnline)
		r.Get("/presence/staff/{role}", s.handleStaffRoleOnline)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the mounted router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("addr", s.cfg.Address()))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requireAPIKey guards the internal surface with a bcrypt-hashed shared
// key. The hash lives in config; the plaintext only ever crosses the
// internal network in the header.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKeyHash == "" {
			s.respondError(w, http.StatusServiceUnavailable, "internal API disabled")
			return
		}
		key := r.Header.Get("X-Internal-Key")
		if key == "" {
			s.respondError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(s.cfg.APIKeyHash), []byte(key)) != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Registry.CountSessions(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", logger.Err(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
