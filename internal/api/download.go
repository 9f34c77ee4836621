package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"finetune-portal/internal/session"
	"finetune-portal/internal/store"
	"finetune-portal/internal/telemetry"
)

// sanitizeFilenamePart keeps letters, digits, underscore and hyphen, mapping
// everything else to underscore so the value is safe inside a header.
func sanitizeFilenamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// handleDownload streams the checkpoint archive for one of the caller's
// completed jobs. A missing row, another user's row and a non-completed row
// all produce the same 404 so callers cannot probe foreign job ids.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	userID, err := session.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Missing required query parameter: jobId")
		return
	}

	job, err := s.ledger.CompletedJob(r.Context(), userID, jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("download: lookup", "user", userID, "jobId", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	body, length, err := s.artifacts.Fetch(r.Context(), job.ArtifactKey)
	if err != nil {
		s.logger.Error("download: fetch", "user", userID, "key", job.ArtifactKey, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to download checkpoint")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"training-checkpoint-job-%s.zip\"", sanitizeFilenamePart(jobID)))
	w.Header().Set("Cache-Control", "no-store")
	if length >= 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", length))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("download: copy interrupted", "user", userID, "jobId", jobID, "err", err)
		return
	}
	telemetry.DownloadsServed.Inc()
}
