package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"finetune-portal/internal/models"
	"finetune-portal/internal/session"
	"finetune-portal/internal/store"
	"finetune-portal/internal/telemetry"
)

// handleListJobs returns the caller's ledger rows, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, err := session.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	jobs, err := s.ledger.ListJobs(r.Context(), userID)
	if err != nil {
		s.logger.Error("jobs: list", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type completeRequest struct {
	JobID  json.RawMessage `json:"jobId"`
	Status string          `json:"status"`
	R2Key  string          `json:"r2Key"`
}

// handleCompleteJob records a job outcome. Completed jobs are upserted into
// the ledger; failed ones are acknowledged and deliberately never stored.
func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	userID, err := session.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	jobID, ok := normalizeJobID(req.JobID)
	if !ok || jobID == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: jobId")
		return
	}

	switch req.Status {
	case models.StatusFailed:
		s.logger.Info("complete: failed job not stored", "user", userID, "jobId", jobID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Failed job not stored"})
	case models.StatusCompleted:
		job, err := s.ledger.RecordCompletion(r.Context(), userID, jobID, req.R2Key)
		if err != nil {
			s.logger.Error("complete: record", "user", userID, "jobId", jobID, "err", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		telemetry.CompletionsRecorded.Inc()
		s.logger.Info("complete: recorded", "user", userID, "jobId", jobID, "r2Key", job.ArtifactKey)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job recorded as completed", "job": job})
	default:
		writeError(w, http.StatusBadRequest, "Invalid status value. Must be 'completed' or 'failed'")
	}
}

type updateRequest struct {
	UserID string          `json:"userId"`
	JobID  json.RawMessage `json:"jobId"`
	Status string          `json:"status"`
	R2Key  string          `json:"r2Key"`
}

// handleUpdateJob is the service-to-service webhook used by the asynchronous
// updater. It only mutates rows that already exist.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	jobID, ok := normalizeJobID(req.JobID)
	if req.UserID == "" || !ok || jobID == "" || req.Status == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if !models.ValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Invalid status value")
		return
	}
	if !compositeKeyRE.MatchString(req.UserID) {
		writeError(w, http.StatusBadRequest, "Invalid userId format")
		return
	}

	err := s.ledger.UpdateJob(r.Context(), req.UserID, jobID, req.Status, req.R2Key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("update: job", "user", req.UserID, "jobId", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
