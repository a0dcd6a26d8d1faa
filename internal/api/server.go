package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/deckrelay/internal/auth"
	"github.com/mattjoyce/deckrelay/internal/dispatch"
	"github.com/mattjoyce/deckrelay/internal/events"
	"github.com/mattjoyce/deckrelay/internal/relay"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

// BrokerInspector reports the relay broker tables.
type BrokerInspector interface {
	Pending() relay.Pending
}

// JournalReader lists recorded broker decisions.
type JournalReader interface {
	Recent(ctx context.Context, relayID string, limit int) ([]storage.RelayEntry, error)
}

// RouterInspector reports the live dispatch routers.
type RouterInspector interface {
	Routers() []dispatch.ContextKey
}

// EventSource is the activity feed streamed on /events.
type EventSource interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration. Every source is optional; the
// matching endpoint answers 404 when its source is nil. With no tokens the
// API is open to any local process.
type Config struct {
	Listen      string
	Fingerprint string
	Tokens      []auth.TokenConfig
	Broker      BrokerInspector
	Journal     JournalReader
	Routers     RouterInspector
	Events      EventSource
	Metrics     http.Handler
}

// Server represents the loopback inspection server.
type Server struct {
	config    Config
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln (blocking) until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if len(s.config.Tokens) > 0 {
			r.Use(s.authMiddleware)
		}
		r.With(s.requireScopes(auth.ScopeRouters)).Get("/routers", s.handleRouters)
		r.Route("/relay", func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeRelay))
			r.Get("/pending", s.handlePending)
			r.Get("/journal", s.handleJournal)
			r.Get("/journal/{relayID}", s.handleJournal)
		})
		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
		if s.config.Metrics != nil {
			r.With(s.requireScopes(auth.ScopeMetrics)).Method(http.MethodGet, "/metrics", s.config.Metrics)
		}
	})

	return r
}

// authMiddleware resolves the bearer token to a principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// requireScopes passes requests whose principal holds any of scopes. With
// auth disabled there is no principal and every request passes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(s.config.Tokens) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(p, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
