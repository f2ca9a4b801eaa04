package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/review-reconciler/internal/backfill"
	"github.com/review-reconciler/internal/types"
)

// CreateJobRequest is a request to enqueue a complaint backfill job.
type CreateJobRequest struct {
	ProductID   string `json:"productId"`
	Priority    int    `json:"priority,omitempty"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// SetStoreLimitRequest updates a store's daily complaint quota.
type SetStoreLimitRequest struct {
	DailyLimit int `json:"dailyLimit"`
}

// RunWorkerRequest triggers an on-demand worker pass.
type RunWorkerRequest struct {
	MaxJobs int `json:"maxJobs,omitempty"`
}

// handleCreateJob enqueues a backfill job for a product.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "productId is required", nil)
		return
	}

	job, err := s.backfill.CreateJob(r.Context(), backfill.CreateJobInput{
		ProductID:   req.ProductID,
		Priority:    req.Priority,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

// handleGetJob retrieves a backfill job by id.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.backfill.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a pending or running backfill job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.backfill.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleListJobs lists backfill jobs by status, queue-ordered.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := types.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = types.JobStatusPending
	}
	switch status {
	case types.JobStatusPending, types.JobStatusInProgress, types.JobStatusCompleted,
		types.JobStatusCancelled, types.JobStatusFailed:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "unknown job status", nil)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	jobs, err := s.backfill.ListJobs(r.Context(), status, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetLimitUsage reports today's complaint quota usage for a store.
func (s *Server) handleGetLimitUsage(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["storeId"]

	used, limit, err := s.limits.Usage(r.Context(), storeID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"storeId":   storeID,
		"used":      used,
		"limit":     limit,
		"remaining": limit - used,
	})
}

// handleSetStoreLimit updates a store's configured daily quota.
func (s *Server) handleSetStoreLimit(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["storeId"]

	var req SetStoreLimitRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.DailyLimit <= 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "dailyLimit must be positive", nil)
		return
	}

	if err := s.limits.SetStoreLimit(r.Context(), storeID, req.DailyLimit); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"storeId":    storeID,
		"dailyLimit": req.DailyLimit,
	})
}

// handleRunWorker triggers one bounded worker pass inline. The cron binary is
// the normal driver; this endpoint exists for operators.
func (s *Server) handleRunWorker(w http.ResponseWriter, r *http.Request) {
	var req RunWorkerRequest
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
			return
		}
	}

	processed, err := s.worker.Run(r.Context(), req.MaxJobs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobsProcessed": processed,
	})
}

// handleRecentEvents returns the latest audited agent events for a store,
// newest first. Diagnostics only; the trail is written by a post-commit hook.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["storeId"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	events, err := s.audit.RecentByStore(r.Context(), storeID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"storeId": storeID,
		"events":  events,
		"count":   len(events),
	})
}
