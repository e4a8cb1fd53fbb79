// Package reconcile resolves divergence between locally recorded active
// sessions and the platform's authoritative thread state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"threadgate/internal/notify"
	"threadgate/internal/platform"
	"threadgate/internal/session/domain"
)

// SessionRepo is the minimal session repository needed by the reconciler.
type SessionRepo interface {
	Deactivate(ctx context.Context, threadID string) error
}

// ThreadFetcher is the platform capability the reconciler consumes.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, threadID string) (*platform.ThreadInfo, error)
}

// Reconciler checks that a locally active session still exists and is
// open on the platform.
type Reconciler struct {
	repo    SessionRepo
	client  ThreadFetcher
	emitter notify.Emitter
	now     func() time.Time
}

// New returns a Reconciler with the given collaborators.
func New(repo SessionRepo, client ThreadFetcher, emitter notify.Emitter) *Reconciler {
	return &Reconciler{repo: repo, client: client, emitter: emitter, now: time.Now}
}

// StillActive verifies s against the platform. A thread that is gone or
// no longer open deactivates the local record and returns false. A
// transient fault fails open (returns true) so a slow or unreachable
// platform never causes a second session to be created. The returned
// error is non-nil only when the local deactivation itself fails.
func (r *Reconciler) StillActive(ctx context.Context, s *domain.Session) (bool, error) {
	info, err := r.client.FetchThread(ctx, s.ThreadID)
	switch {
	case err == nil && info.Open():
		return true, nil
	case err == nil:
		// Found but closed, locked, or archived: stale.
	case errors.Is(err, platform.ErrNotFound):
		// Gone externally: stale.
	case platform.IsPermanent(err):
		// The thread can never be verified (access revoked, resource
		// unknown): treat the platform as ground truth and correct.
	default:
		// Transient: fail open, keep the local record as-is.
		log.Printf("reconcile: fetch thread %s: %v (treating as still active)", s.ThreadID, err)
		return true, nil
	}

	if derr := r.repo.Deactivate(ctx, s.ThreadID); derr != nil {
		return false, fmt.Errorf("deactivate stale session %s: %w", s.ThreadID, derr)
	}
	notify.EmitAsync(r.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      notify.KindSessionDeactivated,
		UserID:    s.UserID,
		ThreadID:  s.ThreadID,
		Summary:   "session deactivated after reconciliation mismatch",
		CreatedAt: r.now().UTC(),
	})
	return false, nil
}
