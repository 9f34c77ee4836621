// Package api wires the HTTP surface of the fine-tuning portal: the training
// proxy, the job ledger endpoints, artifact downloads, and the admin and
// webhook trust domains.
package api

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"finetune-portal/internal/config"
	"finetune-portal/internal/models"
	"finetune-portal/internal/provider"
	"finetune-portal/internal/session"
	"finetune-portal/internal/telemetry"
)

// compositeKeyRE guards the {user}_{job} identifier sent to the provider's
// cancel endpoint against injection into its query string.
var compositeKeyRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Ledger is the durable store of successfully completed jobs.
type Ledger interface {
	NextJobID(ctx context.Context, userID string) (string, error)
	RecordCompletion(ctx context.Context, userID, jobID, artifactKey string) (models.Job, error)
	UpdateJob(ctx context.Context, userID, jobID, status, artifactKey string) error
	ListJobs(ctx context.Context, userID string) ([]models.Job, error)
	CompletedJob(ctx context.Context, userID, jobID string) (models.Job, error)
}

// Directory is the user directory carrying the approval flag.
type Directory interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	ApproveUser(ctx context.Context, id, email string) error
	ListPendingUsers(ctx context.Context) ([]models.User, error)
}

// Backend is the external compute provider.
type Backend interface {
	Train(ctx context.Context, req provider.TrainRequest) (*http.Response, error)
	Cancel(ctx context.Context, compositeKey string) (*http.Response, error)
}

// ArtifactFetcher streams checkpoint objects out of object storage.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// Limiter bounds training submissions per user. Nil disables limiting.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// Notifier dispatches fire-and-forget admin notifications.
type Notifier interface {
	SignupRequested(email, name string)
}

// Server wires HTTP handlers for the portal API.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	ledger    Ledger
	users     Directory
	backend   Backend
	artifacts ArtifactFetcher
	limiter   Limiter
	notifier  Notifier
	sessions  *session.Verifier
	validate  *validator.Validate
}

// New constructs the API server.
func New(cfg config.Config, logger *slog.Logger, ledger Ledger, users Directory, backend Backend, artifacts ArtifactFetcher, limiter Limiter, notifier Notifier) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		ledger:    ledger,
		users:     users,
		backend:   backend,
		artifacts: artifacts,
		limiter:   limiter,
		notifier:  notifier,
		sessions:  session.NewVerifier(cfg.AuthSecret),
		validate:  validator.New(),
	}
}

// Router builds the HTTP router. User endpoints, the admin surface, and the
// job-update webhook sit in separate trust domains.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/signup", s.handleSignup)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware)
		r.Post("/train", s.handleTrain)
		r.Post("/cancel", s.handleCancel)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/complete", s.handleCompleteJob)
		r.Get("/download", s.handleDownload)
		r.Get("/user/status", s.handleUserStatus)
	})

	r.With(s.requireSecret(s.cfg.JobUpdateSecret)).Post("/jobs/update", s.handleUpdateJob)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireSecret(s.cfg.AdminSecret))
		r.Post("/users", s.handleAdminCreateUser)
		r.Post("/approve", s.handleAdminApprove)
		r.Get("/pending", s.handleAdminPending)
	})

	return r
}

// requireSecret authenticates service-to-service callers with a shared
// secret bearer token.
func (s *Server) requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
