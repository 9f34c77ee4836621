package models

import (
	"time"
)

// JobStatus enumerates the backend status vocabulary reported by the compute
// provider. Only StatusCompleted is ever persisted; the ledger never holds
// failed, cancelled, or in-flight jobs.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ValidStatus reports whether s belongs to the backend status vocabulary.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is a ledger row for a training job that completed successfully.
// JobID is the per-user sequence number ("1", "2", ...); ID is the internal
// row identifier.
type Job struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	JobID       string    `json:"jobId"`
	ArtifactKey string    `json:"r2Key"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User is a directory record. Approved gates job submission and is read
// fresh on every request, never cached in a session.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Approved     bool      `json:"approved"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
