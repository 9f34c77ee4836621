package store

import (
	"context"
	"fmt"
)

// The (user_id, job_id) unique index is what makes RecordCompletion's upsert
// safe without application-level locking.
const schema = `
CREATE TABLE IF NOT EXISTS training_jobs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	r2_key     TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, job_id)
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	approved      BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS training_jobs_user_created_idx
	ON training_jobs (user_id, created_at DESC);
`

// EnsureSchema creates the tables on startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
