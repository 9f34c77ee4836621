package api

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"finetune-portal/internal/session"
	"finetune-portal/internal/telemetry"
)

var digitsRE = regexp.MustCompile(`^[0-9]+$`)

type cancelRequest struct {
	UserID string          `json:"userId"`
	JobID  json.RawMessage `json:"jobId"`
}

// handleCancel relays a cancel request to the provider. In-flight jobs are
// never in the ledger, so there is no row to look up: validation, the IDOR
// check, and the remote call are the whole operation.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, err := session.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	jobID, ok := normalizeJobID(req.JobID)
	if req.UserID == "" || !ok || jobID == "" {
		writeError(w, http.StatusBadRequest, "Missing userId or jobId")
		return
	}

	// A caller may only cancel their own job.
	if req.UserID != userID {
		writeError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	composite := userID + "_" + jobID
	if !compositeKeyRE.MatchString(composite) {
		writeError(w, http.StatusBadRequest, "Invalid user or job ID format")
		return
	}

	telemetry.CancelRequests.Inc()
	s.logger.Info("cancel: relaying", "user", userID, "jobId", jobID)

	resp, err := s.backend.Cancel(r.Context(), composite)
	if err != nil {
		s.logger.Error("cancel: provider unreachable", "user", userID, "err", err)
		writeError(w, http.StatusBadGateway, "Compute provider unavailable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.ProviderErrors.Inc()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		writeError(w, resp.StatusCode, "Compute provider error: "+string(detail))
		return
	}

	// Provider's JSON passes through as-is.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}

// normalizeJobID accepts the id as either a JSON string or an integer, the
// two shapes clients send.
func normalizeJobID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, true
	}
	candidate := string(raw)
	if digitsRE.MatchString(candidate) {
		return candidate, true
	}
	return "", false
}
