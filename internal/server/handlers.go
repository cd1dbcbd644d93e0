package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/tubetrust/internal/maintenance"
	"github.com/jonathan/tubetrust/internal/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// healthTimeout bounds the store ping.
const healthTimeout = 2 * time.Second

// RetryResponse represents the response for a retry request
type RetryResponse struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
}

// HealthResponse represents the response for /api/health
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// JobsHealthResponse represents the response for /api/health/jobs
type JobsHealthResponse struct {
	Status string `json:"status"`
	*maintenance.Report
}

// FailJobsResponse represents the response for /api/maintenance/fail-jobs
type FailJobsResponse struct {
	Results []maintenance.Result `json:"results"`
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// handleAnalyze submits a URL for analysis
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req types.AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := req.Validate(); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	sub, err := s.deps.Submitter.Submit(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, sub)
}

// handleGetResult returns the current view of a job
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.errorResponse(w, http.StatusBadRequest, "job id is required")
		return
	}

	view, err := s.deps.Results.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// handleRetry re-runs analysis on a job's cached transcript
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.errorResponse(w, http.StatusBadRequest, "job id is required")
		return
	}

	if _, err := s.deps.Retrier.RequestRetry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, RetryResponse{JobID: id, Status: types.JobStatusPending})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("store health check failed", "error", err)
		s.jsonResponse(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "unreachable"})
		return
	}
	s.jsonResponse(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

// handleHealthJobs reports stale jobs and counts by status
func (s *Server) handleHealthJobs(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Maintenance.Report(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := "ok"
	if !report.Healthy() {
		status = "stale_jobs"
	}
	s.jsonResponse(w, http.StatusOK, JobsHealthResponse{Status: status, Report: report})
}

// handleFailJobs force-fails stuck jobs
func (s *Server) handleFailJobs(w http.ResponseWriter, r *http.Request) {
	var req types.ForceFailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	results, err := s.deps.Maintenance.ForceFail(r.Context(), req.JobIDs, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, FailJobsResponse{Results: results})
}
