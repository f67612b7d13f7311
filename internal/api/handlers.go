package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/ledger"
	"github.com/finly-network/finly/internal/infra/observability"
)

// ─── Decision cycle ─────────────────────────────────────────────────────────
//
// POST /run-analysis                 run one cycle on a finance snapshot
// GET  /api/memory                   ledger records, newest first
// GET  /api/clients/{id}/profile     resolved trust profile
// GET  /api/analysis-results         recent analyses, newest first
// GET  /api/analysis-results/latest  most recent analysis
// GET  /api/traces?limit=N           recent cycle spans

// maxSnapshotBytes bounds the request body of POST /run-analysis.
const maxSnapshotBytes = 1 << 20

// handleRunAnalysis runs one decision cycle.
func (s *Server) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	var snap domain.Snapshot
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err := dec.Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.runner.Run(r.Context(), snap)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res.Report())
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ledger.NewestFirst(recs))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	profile, err := s.runner.Profile(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAnalysisResults(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.Recent(r.Context(), s.recentLimit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if recs == nil {
		recs = []domain.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.Recent(r.Context(), 1)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if len(recs) == 0 {
		writeError(w, http.StatusNotFound, "no analysis recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, recs[0])
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	spans := []observability.Span{}
	if s.tracer != nil {
		spans = s.tracer.Spans(limit)
	}
	writeJSON(w, http.StatusOK, spans)
}
