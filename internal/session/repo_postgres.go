package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists call sessions.
//
// It assumes the following table exists:
//
//	CREATE TABLE call_sessions (
//	    id               TEXT PRIMARY KEY,
//	    caller_id        TEXT NOT NULL,
//	    callee_id        TEXT NOT NULL,
//	    context_ref      TEXT NOT NULL DEFAULT '',
//	    status           TEXT NOT NULL,
//	    duration_seconds INT  NOT NULL DEFAULT 0,
//	    started_at       TIMESTAMPTZ,
//	    ended_at         TIMESTAMPTZ,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX ON call_sessions (caller_id, created_at DESC);
//	CREATE INDEX ON call_sessions (callee_id, created_at DESC);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (id, caller_id, callee_id, context_ref, status, duration_seconds, started_at, ended_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.CallerID,
		s.CalleeID,
		s.ContextRef,
		string(s.Status),
		s.DurationSeconds,
		s.StartedAt,
		s.EndedAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Session, error) {
	const q = `
SELECT id, caller_id, callee_id, context_ref, status, duration_seconds, started_at, ended_at, created_at, updated_at
FROM call_sessions
WHERE id = $1
`
	return scanSession(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, status Status, fields TransitionFields, updatedAt time.Time) error {
	const q = `
UPDATE call_sessions
SET status = $2,
    started_at = COALESCE($3, started_at),
    ended_at = COALESCE($4, ended_at),
    duration_seconds = COALESCE($5, duration_seconds),
    updated_at = $6
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, string(status), fields.StartedAt, fields.EndedAt, fields.DurationSeconds, updatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	const q = `
SELECT id, caller_id, callee_id, context_ref, status, duration_seconds, started_at, ended_at, created_at, updated_at
FROM call_sessions
WHERE caller_id = $1 OR callee_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountByParticipant(ctx context.Context, userID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM call_sessions
WHERE caller_id = $1 OR callee_id = $1
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var status string
	if err := row.Scan(
		&s.ID,
		&s.CallerID,
		&s.CalleeID,
		&s.ContextRef,
		&status,
		&s.DurationSeconds,
		&s.StartedAt,
		&s.EndedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.Status = Status(status)
	return s, nil
}
