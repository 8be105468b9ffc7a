// Package server exposes the instance's HTTP API: indexing, retrieval,
// jobs, health, and shutdown. The listener binds loopback only; the
// rendezvous file tells clients where it landed.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentbrain/agentbrain/internal/health"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/search"
	"github.com/agentbrain/agentbrain/internal/telemetry"
	"github.com/agentbrain/agentbrain/pkg/version"
)

// requestTimeout bounds every handler, matching the longest allowed
// query path with generous slack.
const requestTimeout = 60 * time.Second

// Server wires the HTTP surface over the instance components.
type Server struct {
	engine     *search.Engine
	queue      *jobs.Queue
	aggregator *health.Aggregator
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	// shutdown asks the lifecycle controller to stop the instance. It
	// must return promptly; the actual teardown happens elsewhere.
	shutdown func()
}

type Options struct {
	Engine     *search.Engine
	Queue      *jobs.Queue
	Aggregator *health.Aggregator
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	Shutdown   func()
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     opts.Engine,
		queue:      opts.Queue,
		aggregator: opts.Aggregator,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "server"),
		shutdown:   opts.Shutdown,
	}
}

// Router assembles the chi handler with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)
	r.Use(middleware.Timeout(requestTimeout))

	r.Post("/index", s.handleIndex)
	r.Post("/query", s.handleQuery)

	r.Get("/health", s.handleHealth)
	r.Get("/health/status", s.handleHealthStatus)
	r.Get("/health/postgres", s.handleHealthPostgres)

	r.Get("/jobs", s.handleJobsList)
	r.Get("/jobs/{id}", s.handleJobGet)
	r.Post("/jobs/{id}/cancel", s.handleJobCancel)

	r.Post("/shutdown", s.handleShutdown)

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := health.StatusStarting
	if s.aggregator != nil {
		status = s.aggregator.Live()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": version.Version,
	})
}

func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	if s.aggregator == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusStarting})
		return
	}
	writeJSON(w, http.StatusOK, s.aggregator.Status(r.Context()))
}

func (s *Server) handleHealthPostgres(w http.ResponseWriter, r *http.Request) {
	if s.aggregator == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusStarting})
		return
	}
	snap := s.aggregator.Status(r.Context())
	writeJSON(w, http.StatusOK, snap.Pool)
}

// handleShutdown accepts graceful stop requests from loopback clients
// only; anything that traversed a network is refused.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		writeErrorPayload(w, http.StatusForbidden, "internal", "shutdown is only accepted from loopback", "")
		return
	}
	s.logger.Info("shutdown requested over http")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	if s.shutdown != nil {
		go s.shutdown()
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
