package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"finetune-portal/internal/provider"
	"finetune-portal/internal/session"
	"finetune-portal/internal/store"
	"finetune-portal/internal/telemetry"
)

type trainRequest struct {
	Rank         int    `json:"rank" validate:"required,oneof=2 4 8 16 32"`
	Checkpoint   string `json:"checkpoint" validate:"required,oneof=tiny small base_plus large"`
	Dataset      string `json:"dataset" validate:"required,oneof=irPOLYMER visPOLYMER TIG MAZAK"`
	Epochs       int    `json:"epochs" validate:"required,min=1,max=100"`
	FullFinetune bool   `json:"fullfinetune"`
}

// handleTrain authorizes the submission, predicts the next per-user job id,
// and proxies the provider's live event stream back to the caller. No ledger
// row is created here; jobs are recorded only when they complete.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	userID, err := session.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// Approval is read fresh from the directory on every submission rather
	// than trusted from the session.
	user, err := s.users.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusForbidden, "User not authorized to train models")
		return
	}
	if err != nil {
		s.logger.Error("train: load user", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !user.Approved {
		writeError(w, http.StatusForbidden, "Your account is pending admin approval. Please wait for approval before training models.")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), userID)
		if err != nil {
			s.logger.Error("train: rate limiter", "user", userID, "err", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "Too many training submissions, try again later")
			return
		}
	}

	var req trainRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxTrainBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		telemetry.TrainRejects.Inc()
		writeError(w, http.StatusBadRequest, trainValidationMessage(err))
		return
	}

	predicted, err := s.ledger.NextJobID(r.Context(), userID)
	if err != nil {
		s.logger.Error("train: allocate job id", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	jobNum, err := strconv.Atoi(predicted)
	if err != nil {
		s.logger.Error("train: non-numeric job id", "user", userID, "jobId", predicted)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var loraRank *int
	if !req.FullFinetune {
		rank := req.Rank
		loraRank = &rank
	}
	resp, err := s.backend.Train(r.Context(), provider.TrainRequest{
		UserJob:      provider.UserJob{UserID: userID, JobID: jobNum},
		FullFinetune: req.FullFinetune,
		LoraRank:     loraRank,
		BaseModel:    req.Checkpoint,
		Dataset:      req.Dataset,
		NumEpochs:    req.Epochs,
	})
	if err != nil {
		s.logger.Error("train: provider unreachable", "user", userID, "err", err)
		writeError(w, http.StatusBadGateway, "Compute provider unavailable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.ProviderErrors.Inc()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		writeError(w, resp.StatusCode, fmt.Sprintf("Compute provider error: %s", detail))
		return
	}

	telemetry.TrainsProxied.Inc()
	telemetry.ActiveStreams.Inc()
	defer telemetry.ActiveStreams.Dec()
	s.logger.Info("train: streaming", "user", userID, "predictedJobId", predicted)

	// Stream passthrough: body bytes unmodified, only identification headers
	// added for the caller's relay.
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Job-Id", predicted)
	h.Set("X-User-Id", userID)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(newFlushWriter(w), resp.Body); err != nil {
		// Client went away or the provider stream broke; nothing to roll
		// back since no job row exists yet.
		s.logger.Warn("train: stream interrupted", "user", userID, "jobId", predicted, "err", err)
	}
}

// trainValidationMessage maps the first field failure to the message the UI
// expects.
func trainValidationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "Invalid request"
	}
	switch errs[0].Field() {
	case "Rank":
		return "rank must be one of: 2, 4, 8, 16, 32"
	case "Checkpoint":
		return "checkpoint must be one of: tiny, small, base_plus, large"
	case "Dataset":
		return "dataset must be one of: irPOLYMER, visPOLYMER, TIG, MAZAK"
	case "Epochs":
		return "epochs must be a number between 1 and 100"
	}
	return "Invalid request"
}

// flushWriter flushes after every chunk so log lines reach the client as the
// provider emits them.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) io.Writer {
	if f, ok := w.(http.Flusher); ok {
		return &flushWriter{w: w, f: f}
	}
	return w
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
