// Package http serves health, readiness, run status, metrics and the
// manifest catalog while a pipeline run is in progress.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// StatusReporter exposes the state of the current or last pipeline run.
type StatusReporter interface {
	Status() any
}

// ManifestLister queries recorded manifests.
type ManifestLister interface {
	List(ctx context.Context, dataType string) ([]domain.Manifest, error)
}

// Options wires the optional endpoints. Nil fields disable their route.
type Options struct {
	Status    StatusReporter
	Manifests ManifestLister
	Gatherer  prometheus.Gatherer
}

// Server exposes health, readiness, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz and /metrics
// routes, plus /status and /manifests when their providers are set.
func NewServer(addr string, ready ReadinessChecker, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if opts.Status != nil {
		mux.HandleFunc("GET /status", handleStatus(opts.Status))
	}
	if opts.Manifests != nil {
		mux.HandleFunc("GET /manifests", s.handleManifests(opts.Manifests))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleStatus(reporter StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reporter.Status())
	}
}

func (s *Server) handleManifests(lister ManifestLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manifests, err := lister.List(r.Context(), r.URL.Query().Get("data_type"))
		if err != nil {
			s.logger.Error("list manifests", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "catalog unavailable"})
			return
		}
		if manifests == nil {
			manifests = []domain.Manifest{}
		}
		writeJSON(w, http.StatusOK, manifests)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
