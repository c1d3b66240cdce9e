// Package server exposes the framework over HTTP: a REST API for managing
// agents, messages, and tasks, a WebSocket feed of framework events, and
// the usual operational endpoints (health, readiness, metrics).
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aixgo-dev/agora/agent"
	"github.com/aixgo-dev/agora/orchestrator"
	"github.com/aixgo-dev/agora/pkg/observability"
)

const defaultAddr = ":8000"

// Server wires an orchestrator to the HTTP and WebSocket surface.
type Server struct {
	orch    *orchestrator.Orchestrator
	hub     *WSHub
	limiter *RateLimiter
	mux     *http.ServeMux
	httpSrv *http.Server

	addr           string
	providerConfig map[string]map[string]any

	cancelHub context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is ":8000".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithProviderConfig supplies provider construction options used when
// agents are created through the API.
func WithProviderConfig(cfg map[string]map[string]any) Option {
	return func(s *Server) { s.providerConfig = cfg }
}

// WithRateLimit enables per-client rate limiting on the API routes.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(requestsPerSecond, burst) }
}

// New creates a server around an orchestrator. Call Start to begin
// serving.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch: orch,
		hub:  NewWSHub(),
		mux:  http.NewServeMux(),
		addr: defaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/agents", s.handleListAgents)
	api.HandleFunc("POST /api/agents", s.handleCreateAgent)
	api.HandleFunc("DELETE /api/agents/{name}", s.handleDeleteAgent)
	api.HandleFunc("GET /api/agents/{name}/history", s.handleAgentHistory)
	api.HandleFunc("POST /api/messages", s.handleSendMessage)
	api.HandleFunc("POST /api/tasks", s.handleExecuteTask)
	api.HandleFunc("GET /api/bus/history", s.handleBusHistory)
	api.HandleFunc("GET /api/orchestrator/status", s.handleOrchestratorStatus)
	api.HandleFunc("POST /api/orchestrator/run", s.handleOrchestratorRun)

	s.mux.Handle("/api/", s.withMetrics(s.withRateLimit(api)))

	// The WebSocket route stays outside the middleware chain: the
	// upgrade needs the raw ResponseWriter for hijacking.
	s.mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)

	s.mux.Handle("GET /metrics", observability.MetricsHandler())
	s.mux.HandleFunc("GET /healthz", observability.HealthHandler())
	s.mux.HandleFunc("GET /readyz", observability.ReadinessHandler())
}

// Handler returns the server's root handler, useful for embedding and
// tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Hub returns the WebSocket hub so callers can publish their own events.
func (s *Server) Hub() *WSHub { return s.hub }

// Start runs the event hub and serves HTTP until Shutdown is called or
// the listener fails.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel
	go s.hub.Run(ctx)

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("[Server] Listening on %s", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the event hub and gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelHub != nil {
		s.cancelHub()
	}
	if s.httpSrv == nil {
		return nil
	}
	log.Printf("[Server] Shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !s.limiter.Allow(host) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// env builds the construction environment for API-created agents. The
// bus is left unset; AddAgent attaches the orchestrator's bus.
func (s *Server) env() agent.Env {
	return agent.Env{ProviderConfig: s.providerConfig}
}
