package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"manageros/internal/config"
	"manageros/internal/cron"
	"manageros/internal/queue"
	"manageros/internal/ratelimit"
	"manageros/internal/store"
	"manageros/internal/telemetry"
	"manageros/internal/tenant"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers for the cron trigger and the tenant read API.
type Server struct {
	cfg     config.Config
	runner  *cron.Runner
	opener  store.Opener
	session *tenant.SessionVerifier
	logger  *zap.Logger

	limiter *ratelimit.TokenBucket
	queue   *queue.RedisQueue
	health  Pinger
}

// Option configures optional collaborators.
type Option func(*Server)

// WithLimiter rate limits the cron endpoint per client IP.
func WithLimiter(l *ratelimit.TokenBucket) Option {
	return func(s *Server) { s.limiter = l }
}

// WithQueue exposes the worker dead-letter queue.
func WithQueue(q *queue.RedisQueue) Option {
	return func(s *Server) { s.queue = q }
}

// WithHealthCheck makes /healthz ping p.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

// New constructs the API server.
func New(cfg config.Config, runner *cron.Runner, opener store.Opener, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		opener:  opener,
		session: tenant.NewSessionVerifier(cfg.SessionSigningKey, logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/cron", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter, s.logger))
		}
		r.Get("/", s.handleCron)
		r.Get("/dead-letters", s.handleDeadLetters)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.session.Middleware)
		r.Get("/api/notifications", s.handleListNotifications)
		r.Post("/api/notifications/{id}/read", s.handleMarkRead)
		r.Get("/api/executions", s.handleListExecutions)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
