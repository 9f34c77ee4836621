package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"finetune-portal/internal/models"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyApproved = errors.New("user already approved")
	ErrEmailTaken      = errors.New("email already registered")
)

// Store wraps pgxpool for Postgres persistence. It is the job ledger (rows
// exist only for jobs that completed successfully) and the user directory.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// NextJobID predicts the id the provider will assign to this user's next job:
// one past the number of completed jobs in the ledger. The value is advisory;
// two overlapping submissions by the same user can predict the same id, and
// the id confirmed by the provider's response headers wins.
func (s *Store) NextJobID(ctx context.Context, userID string) (string, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM training_jobs WHERE user_id = $1
	`, userID).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("count jobs: %w", err)
	}
	return strconv.FormatInt(n+1, 10), nil
}

// RecordCompletion upserts the ledger row for a completed job. Repeated
// completion signals for the same (user, job) converge to one row; a later
// signal carrying an artifact key overwrites the stored key, an empty one
// leaves it alone. When no key was ever supplied the row gets the
// deterministic fallback path.
func (s *Store) RecordCompletion(ctx context.Context, userID, jobID, artifactKey string) (models.Job, error) {
	insertKey := artifactKey
	if insertKey == "" {
		insertKey = fmt.Sprintf("%s/%s/checkpoint.zip", userID, jobID)
	}
	now := time.Now().UTC()

	var job models.Job
	err := s.pool.QueryRow(ctx, `
		INSERT INTO training_jobs (id, user_id, job_id, r2_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    r2_key = COALESCE(NULLIF($7, ''), training_jobs.r2_key),
		    updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, job_id, r2_key, status, created_at, updated_at
	`, uuid.New().String(), userID, jobID, insertKey, models.StatusCompleted, now, artifactKey).Scan(
		&job.ID, &job.UserID, &job.JobID, &job.ArtifactKey, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return models.Job{}, fmt.Errorf("record completion: %w", err)
	}
	return job, nil
}

// UpdateJob mutates an existing ledger row (webhook path). Unlike
// RecordCompletion it never inserts: the asynchronous updater may only touch
// jobs that already completed.
func (s *Store) UpdateJob(ctx context.Context, userID, jobID, status, artifactKey string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE training_jobs
		SET status = $3, r2_key = COALESCE(NULLIF($4, ''), r2_key), updated_at = NOW()
		WHERE user_id = $1 AND job_id = $2
	`, userID, jobID, status, artifactKey)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobs returns the user's ledger rows, newest first.
func (s *Store) ListJobs(ctx context.Context, userID string) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, job_id, r2_key, status, created_at, updated_at
		FROM training_jobs WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.UserID, &j.JobID, &j.ArtifactKey, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CompletedJob fetches the user's completed job by its per-user id. Wrong
// owner, unknown id, and non-completed status all collapse to ErrNotFound so
// the caller cannot distinguish them.
func (s *Store) CompletedJob(ctx context.Context, userID, jobID string) (models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, job_id, r2_key, status, created_at, updated_at
		FROM training_jobs
		WHERE user_id = $1 AND job_id = $2 AND status = $3
	`, userID, jobID, models.StatusCompleted).Scan(
		&j.ID, &j.UserID, &j.JobID, &j.ArtifactKey, &j.Status, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("query completed job: %w", err)
	}
	return j, nil
}

// GetUser fetches a directory record by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, approved, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.Approved, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetUserByEmail fetches a directory record by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, approved, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.Approved, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query user by email: %w", err)
	}
	return u, nil
}

// CreateUser inserts a directory record. ErrEmailTaken when the email is
// already registered.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, approved, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (email) DO NOTHING
	`, u.ID, u.Email, u.Name, u.Approved, u.PasswordHash, now)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrEmailTaken
	}
	return u, nil
}

// ApproveUser flips the approval flag on the user named by id, or by email
// when no id is given. ErrNotFound for an unknown user, ErrAlreadyApproved
// when the flag was already set.
func (s *Store) ApproveUser(ctx context.Context, id, email string) error {
	var (
		u   models.User
		err error
	)
	if id != "" {
		u, err = s.GetUser(ctx, id)
	} else {
		u, err = s.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return err
	}
	if u.Approved {
		return ErrAlreadyApproved
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users SET approved = TRUE, updated_at = NOW() WHERE id = $1
	`, u.ID)
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	return nil
}

// ListPendingUsers returns directory records awaiting approval, oldest first.
func (s *Store) ListPendingUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, name, approved, password_hash, created_at, updated_at
		FROM users WHERE approved = FALSE
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Approved, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
