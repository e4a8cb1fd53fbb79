package repository

import (
	"context"
	"time"

	"threadgate/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	// GetActiveByUser returns the most recently created active session
	// for the user, or nil if the user has none.
	GetActiveByUser(ctx context.Context, userID string) (*domain.Session, error)
	// GetByThreadID returns the session whose platform thread id matches,
	// or nil if not found.
	GetByThreadID(ctx context.Context, threadID string) (*domain.Session, error)
	// Create inserts a new active session. Callers must serialize per user;
	// Create itself does not enforce the one-active-session invariant.
	Create(ctx context.Context, s *domain.Session) error
	// IncrementAttempts bumps attempt_count on the user's active session
	// and returns the new value. Must not lose updates under concurrent
	// calls for the same user.
	IncrementAttempts(ctx context.Context, userID string) (int, error)
	// Deactivate marks the session with the given platform thread id
	// inactive. No-op, not an error, when no active record matches.
	Deactivate(ctx context.Context, threadID string) error
	// ListExpired returns all active sessions with expires_at before now.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error)
}
