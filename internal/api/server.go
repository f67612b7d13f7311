// Package api provides the HTTP server for FinLy.
// It runs decision cycles on request and exposes the ledger, client trust
// profiles, analysis history and recent traces.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finly-network/finly/internal/app/cycle"
	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
)

// SystemName is reported by the readiness endpoints.
const SystemName = "FinLy Agentic Core"

// DefaultRecentLimit caps GET /api/analysis-results.
const DefaultRecentLimit = 50

// Server is the FinLy HTTP API server.
type Server struct {
	runner  *cycle.Runner
	ledger  domain.Ledger
	history domain.AnalyticsSink // nil disables the analysis-results routes
	tracer  *observability.Tracer

	metricsEnabled bool
	recentLimit    int
	requestTimeout time.Duration
}

// NewServer creates a new API server.
func NewServer(runner *cycle.Runner, ledger domain.Ledger, history domain.AnalyticsSink, tracer *observability.Tracer) *Server {
	return &Server{
		runner:         runner,
		ledger:         ledger,
		history:        history,
		tracer:         tracer,
		recentLimit:    DefaultRecentLimit,
		requestTimeout: 2 * time.Minute,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRecentLimit sets how many analyses GET /api/analysis-results returns.
func (s *Server) SetRecentLimit(n int) {
	if n > 0 {
		s.recentLimit = n
	}
}

// SetRequestTimeout bounds every request, including a full cycle.
func (s *Server) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.requestTimeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(corsMiddleware)

	r.Get("/", s.handleStatus)
	r.Get("/health", s.handleStatus)

	r.Post("/run-analysis", s.handleRunAnalysis)

	r.Route("/api", func(r chi.Router) {
		r.Get("/memory", s.handleMemory)
		r.Get("/clients/{id}/profile", s.handleProfile)
		r.Get("/traces", s.handleTraces)
		if s.history != nil {
			r.Get("/analysis-results", s.handleAnalysisResults)
			r.Get("/analysis-results/latest", s.handleLatestAnalysis)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "active",
		"system": SystemName,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for the dashboard.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
