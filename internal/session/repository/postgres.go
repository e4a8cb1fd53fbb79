package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"threadgate/internal/session/domain"
)

// ErrNoActiveSession is returned by IncrementAttempts when the user has
// no active session to increment.
var ErrNoActiveSession = errors.New("no active session for user")

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, thread_id, channel_id, attempt_count, is_active, created_at, expires_at`

// GetActiveByUser returns the latest active session for the user, or nil if none.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetActiveByUser(ctx context.Context, userID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND is_active
		 ORDER BY created_at DESC LIMIT 1`, userID)
	return scanSession(row)
}

// GetByThreadID returns the session for the platform thread id, or nil if not found.
func (r *PostgresRepository) GetByThreadID(ctx context.Context, threadID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE thread_id = $1`, threadID)
	return scanSession(row)
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, thread_id, channel_id, attempt_count, is_active, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.ThreadID, s.ChannelID, s.AttemptCount, s.IsActive, s.CreatedAt, s.ExpiresAt)
	return err
}

// IncrementAttempts atomically bumps attempt_count on the user's active
// session and returns the new value. The read-modify-write is a single
// UPDATE so row-level locking prevents lost updates under concurrency.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE sessions SET attempt_count = attempt_count + 1
		 WHERE id = (
			SELECT id FROM sessions
			WHERE user_id = $1 AND is_active
			ORDER BY created_at DESC LIMIT 1
		 )
		 RETURNING attempt_count`, userID).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoActiveSession
		}
		return 0, err
	}
	return n, nil
}

// Deactivate marks the session with the given thread id inactive.
// Idempotent: updating zero rows is not an error.
func (r *PostgresRepository) Deactivate(ctx context.Context, threadID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE thread_id = $1 AND is_active`, threadID)
	return err
}

// ListExpired returns all active sessions whose expires_at is before now.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE is_active AND expires_at < $1
		 ORDER BY expires_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.ThreadID, &s.ChannelID,
			&s.AttemptCount, &s.IsActive, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.ThreadID, &s.ChannelID,
		&s.AttemptCount, &s.IsActive, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
