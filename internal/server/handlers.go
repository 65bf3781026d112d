package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vanntrong/qaserve-go/internal/engine"
	"github.com/vanntrong/qaserve-go/internal/logging"
)

// writeJSON encodes v with the given status. Encoding failures are logged,
// not surfaced — headers are already gone.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// handleIngest handles POST /api/ingest: bulk ingestion of pairs.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.BulkIngest(r.Context(), req.Pairs)
	if err != nil {
		s.metrics.ingestBatchesTotal.WithLabelValues(outcomeError).Inc()
		switch {
		case errors.Is(err, engine.ErrEmptyBatch),
			errors.Is(err, engine.ErrBatchTooLarge),
			errors.Is(err, engine.ErrAllRowsSkipped):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logging.FromContext(r.Context()).Error("ingest failed", slog.Any("error", err))
			http.Error(w, "ingest failed", http.StatusInternalServerError)
		}
		return
	}

	s.metrics.ingestBatchesTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.ingestRowsTotal.WithLabelValues("inserted").Add(float64(res.Inserted))
	s.metrics.ingestRowsTotal.WithLabelValues("skipped_empty").Add(float64(res.SkippedEmpty))
	s.metrics.ingestRowsTotal.WithLabelValues("skipped_duplicate").Add(float64(res.SkippedDuplicate))
	if res.RetrainTriggered {
		s.metrics.retrainTriggersTotal.Inc()
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

// handleQA handles POST /api/qa: single-pair ingestion.
func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	var req qaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inserted, err := s.engine.SingleIngest(r.Context(), req.Question, req.Answer)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyAfterClean) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logging.FromContext(r.Context()).Error("qa insert failed", slog.Any("error", err))
		http.Error(w, "insert failed", http.StatusInternalServerError)
		return
	}

	if inserted {
		s.metrics.ingestRowsTotal.WithLabelValues("inserted").Inc()
	} else {
		s.metrics.ingestRowsTotal.WithLabelValues("skipped_duplicate").Inc()
	}
	s.writeJSON(w, r, http.StatusOK, qaResponse{Inserted: inserted})
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	threshold := engine.DefaultDistanceThreshold
	if req.MaxDistanceThreshold != nil {
		threshold = *req.MaxDistanceThreshold
	}

	start := time.Now()
	hits, err := s.engine.Search(r.Context(), req.Question, req.K, threshold)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyQuery) {
			s.metrics.searchRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeError).Inc()
		logging.FromContext(r.Context()).Error("search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	s.metrics.searchRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.searchDurationSeconds.Observe(time.Since(start).Seconds())
	s.writeJSON(w, r, http.StatusOK, hits)
}

// handleRetrain handles POST /api/retrain: a manual trigger that skips the
// minimum-interval gate.
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	triggered, err := s.engine.TriggerRetrain(r.Context(), true)
	if err != nil {
		if errors.Is(err, engine.ErrNoTrainer) {
			http.Error(w, "retraining not configured", http.StatusServiceUnavailable)
			return
		}
		logging.FromContext(r.Context()).Error("retrain trigger failed", slog.Any("error", err))
		http.Error(w, "retrain trigger failed", http.StatusInternalServerError)
		return
	}

	if triggered {
		s.metrics.retrainTriggersTotal.Inc()
	}
	s.writeJSON(w, r, http.StatusOK, retrainResponse{Triggered: triggered})
}

// handleAutoEnable handles POST /api/retrain/auto/enable.
func (s *Server) handleAutoEnable(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		http.Error(w, "retrain sweep not configured", http.StatusServiceUnavailable)
		return
	}
	s.sweeper.Enable()
	s.writeJSON(w, r, http.StatusOK, autoResponse{Enabled: true})
}

// handleAutoDisable handles POST /api/retrain/auto/disable.
func (s *Server) handleAutoDisable(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		http.Error(w, "retrain sweep not configured", http.StatusServiceUnavailable)
		return
	}
	s.sweeper.Disable()
	s.writeJSON(w, r, http.StatusOK, autoResponse{Enabled: false})
}

// handleAutoStatus handles GET /api/retrain/auto.
func (s *Server) handleAutoStatus(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		http.Error(w, "retrain sweep not configured", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, autoResponse{Enabled: s.sweeper.Enabled()})
}
