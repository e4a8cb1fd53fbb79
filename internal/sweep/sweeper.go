// Package sweep reclaims sessions past their time-to-live: the platform
// thread is locked and archived, then the local record is deactivated.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"threadgate/internal/notify"
	"threadgate/internal/platform"
	"threadgate/internal/session/domain"
)

// SessionRepo is the minimal session repository needed by the sweeper.
type SessionRepo interface {
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error)
	Deactivate(ctx context.Context, threadID string) error
}

// ThreadCloser is the platform capability set the sweeper consumes.
type ThreadCloser interface {
	FetchThread(ctx context.Context, threadID string) (*platform.ThreadInfo, error)
	LockThread(ctx context.Context, threadID string) error
	ArchiveThread(ctx context.Context, threadID string) error
}

// Sweeper drives expired sessions through closure on a fixed cadence.
type Sweeper struct {
	repo     SessionRepo
	client   ThreadCloser
	emitter  notify.Emitter
	interval time.Duration
	now      func() time.Time

	running atomic.Bool // guards against overlapping sweeps
	done    chan struct{}
	cancel  context.CancelFunc
}

// New returns a Sweeper that runs every interval.
func New(repo SessionRepo, client ThreadCloser, emitter notify.Emitter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		repo:     repo,
		client:   client,
		emitter:  emitter,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the sweep loop: one sweep immediately, then one per
// interval. A tick that fires while the previous sweep is still running
// is skipped; the next tick retries whatever remained.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.sweepGuarded(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepGuarded(ctx)
			}
		}
	}()
}

// Stop clears the interval and waits for an in-progress sweep to finish,
// bounded by drainTimeout. The sweep itself is not interrupted.
func (s *Sweeper) Stop(drainTimeout time.Duration) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(drainTimeout):
		log.Printf("sweep: shutdown drain timed out after %s", drainTimeout)
	}
}

func (s *Sweeper) sweepGuarded(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("sweep: previous sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)
	s.sweep(ctx)
}

// sweep closes every expired session it can. Failures are isolated per
// record: one session's fault never aborts the rest of the sweep.
func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now().UTC()
	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		log.Printf("sweep: list expired: %v", err)
		return
	}
	for _, sess := range expired {
		if err := s.closeOne(ctx, sess); err != nil {
			log.Printf("sweep: session %s (thread %s): %v", sess.ID, sess.ThreadID, err)
		}
	}
}

// closeOne drives a single expired session through closure. Safe to
// re-run against a session that failed a previous sweep: every step is
// harmless when repeated.
func (s *Sweeper) closeOne(ctx context.Context, sess *domain.Session) error {
	_, err := s.client.FetchThread(ctx, sess.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		// The thread is already gone; nothing external to clean up.
		return s.deactivate(ctx, sess, notify.KindSessionDeactivated, "session deactivated: thread already gone")
	}
	if err != nil {
		return s.classify(ctx, sess, fmt.Errorf("fetch thread: %w", err))
	}

	if err := s.client.LockThread(ctx, sess.ThreadID); err != nil {
		return s.classify(ctx, sess, fmt.Errorf("lock thread: %w", err))
	}
	if err := s.client.ArchiveThread(ctx, sess.ThreadID); err != nil {
		return s.classify(ctx, sess, fmt.Errorf("archive thread: %w", err))
	}
	return s.deactivate(ctx, sess, notify.KindSessionExpired, "session expired: thread locked and archived")
}

// classify applies the fault policy: permanent faults will never succeed
// on retry, so the local record is corrected immediately; transient
// faults leave the record for the next tick.
func (s *Sweeper) classify(ctx context.Context, sess *domain.Session, err error) error {
	if platform.IsPermanent(err) {
		if derr := s.deactivate(ctx, sess, notify.KindSessionDeactivated,
			fmt.Sprintf("session deactivated on permanent fault: %v", err)); derr != nil {
			return derr
		}
		return nil
	}
	return err
}

func (s *Sweeper) deactivate(ctx context.Context, sess *domain.Session, kind, summary string) error {
	if err := s.repo.Deactivate(ctx, sess.ThreadID); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	notify.EmitAsync(s.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		UserID:    sess.UserID,
		ThreadID:  sess.ThreadID,
		Summary:   summary,
		CreatedAt: s.now().UTC(),
	})
	return nil
}
