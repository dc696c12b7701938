package simd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// maxBodyBytes bounds request bodies; overrides are small.
const maxBodyBytes = 1 << 20

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
}

func NewHTTPServer(store *RunStore, executor *RunExecutor) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/factors", s.handleFactors)
	s.mux.HandleFunc("/v1/metrics", s.handleMetrics)
	s.mux.HandleFunc("/v1/experiments", s.handleExperiments)
	s.mux.HandleFunc("/v1/experiments:score", s.handleScore)
	s.mux.HandleFunc("/v1/experiments/", s.handleExperimentByID)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /v1/metrics.
func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.Executor.Metrics().GetSummary())
}

// handleFactors handles GET /v1/factors
func (s *HTTPServer) handleFactors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	days := control.DefaultFeedDays
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 366 {
			s.writeError(w, http.StatusBadRequest, "days must be an integer in [1, 366]")
			return
		}
		days = parsed
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"factors":    control.Factors(days),
		"objectives": experiment.ObjectiveTypes(),
	})
}

// handleExperiments handles /v1/experiments endpoint
func (s *HTTPServer) handleExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateExperiment(w, r)
	case http.MethodGet:
		s.handleListExperiments(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleExperimentByID handles /v1/experiments/{id}, {id}:stop and
// {id}/dataset
func (s *HTTPServer) handleExperimentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/experiments/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "experiment ID is required")
		return
	}

	if strings.HasSuffix(path, ":stop") {
		runID := strings.TrimSuffix(path, ":stop")
		if r.Method == http.MethodPost {
			s.handleStopExperiment(w, runID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/dataset") {
		runID := strings.TrimSuffix(path, "/dataset")
		if r.Method == http.MethodGet {
			s.handleGetDataset(w, runID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if r.Method == http.MethodGet {
		s.handleGetExperiment(w, path)
	} else {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type experimentRequest struct {
	RunID          string             `json:"run_id,omitempty"`
	Overrides      map[string]float64 `json:"overrides"`
	CallbackURL    string             `json:"callback_url,omitempty"`
	CallbackSecret string             `json:"callback_secret,omitempty"`
}

// handleCreateExperiment handles POST /v1/experiments. Settings are
// validated before the run is stored, so a configuration error never
// produces a record.
func (s *HTTPServer) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req experimentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.ContainsAny(req.RunID, "/:") {
		s.writeError(w, http.StatusBadRequest, "run_id cannot contain '/' or ':'")
		return
	}
	if _, err := control.Merge(req.Overrides); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CallbackURL != "" {
		if err := validateCallbackURL(req.CallbackURL); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rec, err := s.store.Create(req.RunID, req.Overrides, Callback{URL: req.CallbackURL, Secret: req.CallbackSecret})
	if err != nil {
		if errors.Is(err, ErrRunExists) {
			s.writeError(w, http.StatusConflict, err.Error())
		} else {
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("experiment created (HTTP)", "run_id", rec.Run.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{"experiment": rec.Run})
}

// handleListExperiments handles GET /v1/experiments with pagination and
// filtering
func (s *HTTPServer) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, 1000)
		}
	}
	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	status := models.RunStatus(strings.ToLower(r.URL.Query().Get("status")))

	recs := s.store.List(limit, offset, status)
	runs := make([]models.ExperimentRun, len(recs))
	for i, rec := range recs {
		runs[i] = rec.Run
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"experiments": runs,
		"limit":       limit,
		"offset":      offset,
	})
}

func (s *HTTPServer) handleGetExperiment(w http.ResponseWriter, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"experiment": rec.Run})
}

func (s *HTTPServer) handleGetDataset(w http.ResponseWriter, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	if rec.Dataset == nil {
		s.writeError(w, http.StatusPreconditionFailed, "dataset not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"experiment_id": runID,
		"dataset":       rec.Dataset,
	})
}

func (s *HTTPServer) handleStopExperiment(w http.ResponseWriter, runID string) {
	rec, err := s.Executor.Stop(runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrRunTerminal):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrRunIDMissing):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"experiment": rec.Run})
}

// handleScore handles POST /v1/experiments:score, a synchronous
// evaluation. ?dataset=true includes the sampled trajectories.
func (s *HTTPServer) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req experimentRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.Executor.Score(r.Context(), req.Overrides)
	if err != nil {
		kind := classify(err)
		s.writeJSON(w, httpStatus(kind), map[string]any{
			"error":      err.Error(),
			"error_kind": kind,
		})
		return
	}

	out := map[string]any{
		"id":          res.ID,
		"objective":   res.Objective,
		"score":       res.Score,
		"titer":       res.Titer,
		"settings":    res.Settings.Map(),
		"duration_ms": res.Duration.Milliseconds(),
		"solver":      res.Solver,
	}
	if r.URL.Query().Get("dataset") == "true" {
		out["dataset"] = res.Dataset
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
