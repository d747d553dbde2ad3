// Package server exposes the orchestration layer over a websocket
// endpoint carrying newline-delimited JSON frames, plus health and
// metrics endpoints for operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/orchestrator"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

const healthTimeout = 5 * time.Second

// Dispatcher is the orchestrator surface the server drives.
type Dispatcher interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Cancel(conversationID string) bool
}

// TokenVerifier turns bearer tokens into principals.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (rbac.Principal, error)
}

// HealthCheck probes one dependency for the health endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the server's collaborators.
type Deps struct {
	Orchestrator Dispatcher
	Verifier     TokenVerifier
	Recorder     observability.Recorder

	// Metrics serves the scrape endpoint; nil disables /metrics.
	Metrics http.Handler

	// Health lists the dependency probes behind /healthz.
	Health []HealthCheck
}

// Server owns the HTTP listener and the websocket sessions.
type Server struct {
	cfg  config.ServerConfig
	deps Deps

	router     chi.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	wg             sync.WaitGroup
}

func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, protocol.Errorf(protocol.KindValidation, "server.new", "server requires an orchestrator")
	}
	if deps.Verifier == nil {
		return nil, protocol.Errorf(protocol.KindValidation, "server.new", "server requires a token verifier")
	}
	if deps.Recorder == nil {
		deps.Recorder = observability.NopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		deps:           deps,
		sessionCtx:     ctx,
		cancelSessions: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:    cfg.Address(),
		Handler: s.router,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	return r
}

// Handler exposes the route table for tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	slog.Info("server: listening", "address", s.cfg.Address())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.cfg.Address(), err)
	}
	return nil
}

// Stop cancels every session scope, waits for sessions to drain within
// ctx, then shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelSessions()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("server: sessions did not drain before deadline")
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	newSession(s.sessionCtx, conn, s.cfg, s.deps).run()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	type dependency struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	checked := make(map[string]dependency, len(s.deps.Health))
	healthy := true
	for _, check := range s.deps.Health {
		if err := check.Check(ctx); err != nil {
			healthy = false
			checked[check.Name] = dependency{Status: "degraded", Error: err.Error()}
			continue
		}
		checked[check.Name] = dependency{Status: "ok"}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"dependencies": checked,
	})
}

// originChecker allows all origins when none are configured (dev mode)
// and exact matches otherwise.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// requestLogger logs plain HTTP requests. The websocket endpoint logs
// per session instead.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("server: http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
