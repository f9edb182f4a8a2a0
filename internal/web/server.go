// Package web is the HTTP transport: a thin chi router exposing the
// toolsurface operations as POST JSON endpoints, plus one GET /events SSE
// handler subscribing to the event bus. No domain logic lives here.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/eventbus"
	"github.com/stagehand-run/stagehand/toolsurface"
)

// Server adapts toolsurface.Surface and eventbus.Bus to HTTP/SSE.
type Server struct {
	surface   *toolsurface.Surface
	bus       *eventbus.Bus
	authToken string
	log       *zap.Logger
	http      *http.Server
}

// New constructs a Server. authToken, if non-empty, is required as a
// "Bearer <token>" Authorization header on every request. Per-connection
// token validation only, not a user auth system.
func New(surface *toolsurface.Surface, bus *eventbus.Bus, authToken string, log *zap.Logger) *Server {
	return &Server{surface: surface, bus: bus, authToken: authToken, log: log}
}

// Router builds the chi router. Exposed separately from Start so tests can
// exercise it with httptest.NewServer without binding a real port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.authMiddleware)

	r.Post("/projects", s.handleCreateProject)
	r.Post("/worker-types", s.handleCreateWorkerType)
	r.Post("/tickets", s.handleCreateTicket)
	r.Post("/tickets/{ticketID}/claim", s.handleClaimTicket)
	r.Post("/tickets/{ticketID}/release", s.handleReleaseTicket)
	r.Post("/tickets/{ticketID}/comments", s.handleAddComment)
	r.Post("/tickets/{ticketID}/stage", s.handleUpdateStage)
	r.Post("/tickets/{ticketID}/close", s.handleCloseTicket)
	r.Post("/tickets/{ticketID}/resume", s.handleResumeTicket)
	r.Post("/workers/{workerID}/finish", s.handleFinishWorker)
	r.Post("/spawn", s.handleSpawnWorkerForStage)

	r.Get("/events", s.handleSSE)
	r.Get("/events/pending", s.handleListPendingEvents)
	r.Post("/events/{eventID}/resolve", s.handleResolveEvent)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived.
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web: listening", zap.String("addr", addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("web: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// authMiddleware enforces the per-connection bearer token when one is
// configured. /healthz is always open so orchestration health checks don't
// need a credential.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		got := r.Header.Get("Authorization")
		if len(got) <= len(prefix) || got[:len(prefix)] != prefix || got[len(prefix):] != s.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
