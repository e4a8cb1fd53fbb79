// Package gate decides, for each inbound contact event, whether to open
// a new session, route it into the user's existing session, or escalate
// against abuse. Session-open decisions are serialized per user.
package gate

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

// SessionRepo is the minimal session repository needed by the gate.
type SessionRepo interface {
	GetActiveByUser(ctx context.Context, userID string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	IncrementAttempts(ctx context.Context, userID string) (int, error)
	Deactivate(ctx context.Context, threadID string) error
}

// Reconciler verifies a locally active session against the platform.
// Returns false when the session is stale and has been deactivated.
type Reconciler interface {
	StillActive(ctx context.Context, s *domain.Session) (bool, error)
}

// Options configures gate policy.
type Options struct {
	// TTL is the session lifetime; ExpiresAt is CreatedAt + TTL.
	TTL time.Duration
	// KickThreshold is the attempt count the user is removed above;
	// reaching it exactly draws a final warning only.
	KickThreshold int
	// WarnThreshold is the attempt count remaining-attempts warnings start at.
	WarnThreshold int
	// ExemptRoles bypass the gate entirely.
	ExemptRoles map[string]struct{}
}

// Gate implements the contact-event state machine.
type Gate struct {
	repo       SessionRepo
	client     platform.Client
	reconciler Reconciler
	emitter    notify.Emitter
	opts       Options
	locks      *lockArena
	now        func() time.Time
}

// New returns a Gate with the given collaborators and policy.
func New(repo SessionRepo, client platform.Client, reconciler Reconciler, emitter notify.Emitter, opts Options) *Gate {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.KickThreshold <= 0 {
		opts.KickThreshold = 10
	}
	if opts.WarnThreshold <= 0 {
		opts.WarnThreshold = 7
	}
	return &Gate{
		repo:       repo,
		client:     client,
		reconciler: reconciler,
		emitter:    emitter,
		opts:       opts,
		locks:      newLockArena(),
		now:        time.Now,
	}
}

// HandleMessageCreated processes one inbound contact event. Safe for
// concurrent calls; events for the same user serialize on the session-open
// decision, events for different users run fully in parallel.
func (g *Gate) HandleMessageCreated(ctx context.Context, ev platform.Event) {
	if g.exempt(ev.Roles) {
		return
	}

	// Holding the per-user lock is the in-progress marker: a concurrent
	// first contact waits here until the earlier open settles, then
	// re-reads the store and routes as a duplicate.
	release := g.locks.Acquire(ev.UserID)
	defer release()

	active, err := g.repo.GetActiveByUser(ctx, ev.UserID)
	if err != nil {
		g.fail(ctx, ev, fmt.Errorf("lookup active session: %w", err))
		return
	}

	if active != nil {
		ok, err := g.reconciler.StillActive(ctx, active)
		if err != nil {
			g.fail(ctx, ev, fmt.Errorf("reconcile session %s: %w", active.ThreadID, err))
			return
		}
		if ok {
			g.routeDuplicate(ctx, ev, active)
			return
		}
		// Stale: reconciler deactivated it; fall through to open fresh.
	}

	g.openSession(ctx, ev)
}

// HandleThreadRemoved deactivates the local record for a thread the
// platform deleted out-of-band.
func (g *Gate) HandleThreadRemoved(ctx context.Context, ev platform.Event) {
	if err := g.repo.Deactivate(ctx, ev.ThreadID); err != nil {
		log.Printf("gate: deactivate removed thread %s: %v", ev.ThreadID, err)
		return
	}
	notify.EmitAsync(g.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      notify.KindSessionDeactivated,
		UserID:    ev.UserID,
		ThreadID:  ev.ThreadID,
		Summary:   "session deactivated after external thread removal",
		CreatedAt: g.now().UTC(),
	})
}

// openSession creates the platform thread, persists the record, and
// emits a creation notification. If persistence fails after the thread
// was created, the thread is destroyed so no orphaned external session
// is left without a local record.
func (g *Gate) openSession(ctx context.Context, ev platform.Event) {
	title := fmt.Sprintf("Session for %s", ev.UserID)
	threadID, err := g.client.OpenThread(ctx, ev.ChannelID, title, g.opts.TTL)
	if err != nil {
		g.fail(ctx, ev, fmt.Errorf("open thread: %w", err))
		return
	}

	now := g.now().UTC()
	s := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       ev.UserID,
		ThreadID:     threadID,
		ChannelID:    ev.ChannelID,
		AttemptCount: 0,
		IsActive:     true,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.opts.TTL),
	}
	if err := g.repo.Create(ctx, s); err != nil {
		if cerr := g.client.CloseThread(ctx, threadID); cerr != nil {
			log.Printf("gate: rollback thread %s after persist failure: %v", threadID, cerr)
		}
		g.fail(ctx, ev, fmt.Errorf("persist session: %w", err))
		return
	}

	notify.EmitAsync(g.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      notify.KindSessionCreated,
		UserID:    ev.UserID,
		ThreadID:  threadID,
		Summary:   "session created",
		Detail:    fmt.Sprintf("channel=%s expires_at=%s", ev.ChannelID, s.ExpiresAt.Format(time.RFC3339)),
		CreatedAt: now,
	})
}

// routeDuplicate handles a contact event from a user who already has an
// active session: discard the origin message, count the attempt, notify
// the user, and apply the escalation policy.
func (g *Gate) routeDuplicate(ctx context.Context, ev platform.Event, active *domain.Session) {
	if ev.MessageID != "" {
		if err := g.client.DeleteMessage(ctx, ev.ChannelID, ev.MessageID); err != nil {
			// Best-effort; a permission failure must not stop processing.
			log.Printf("gate: discard message %s for %s: %v", ev.MessageID, ev.UserID, err)
		}
	}

	n, err := g.repo.IncrementAttempts(ctx, ev.UserID)
	if err != nil {
		g.fail(ctx, ev, fmt.Errorf("increment attempts: %w", err))
		return
	}

	msg := fmt.Sprintf("You already have an open session (thread %s). Please continue there.", active.ThreadID)
	if warning := g.warningFor(n); warning != "" {
		msg += " " + warning
	}
	if err := g.client.SendDirect(ctx, ev.UserID, msg); err != nil {
		if errors.Is(err, platform.ErrDirectMessagesDisabled) {
			log.Printf("gate: direct message to %s skipped: disabled", ev.UserID)
		} else {
			log.Printf("gate: direct message to %s failed: %v", ev.UserID, err)
		}
	}

	now := g.now().UTC()
	notify.EmitAsync(g.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      notify.KindDuplicateAttempt,
		UserID:    ev.UserID,
		ThreadID:  active.ThreadID,
		Summary:   "duplicate contact routed into active session",
		Detail:    fmt.Sprintf("attempt_count=%d", n),
		CreatedAt: now,
	})
	if warning := g.warningFor(n); warning != "" {
		notify.EmitAsync(g.emitter, ctx, &notify.Event{
			ID:        uuid.New().String(),
			Kind:      notify.KindWarningIssued,
			UserID:    ev.UserID,
			ThreadID:  active.ThreadID,
			Summary:   "warning issued",
			Detail:    fmt.Sprintf("attempt_count=%d warning=%q", n, warning),
			CreatedAt: now,
		})
	}

	if n > g.opts.KickThreshold {
		g.removeMember(ctx, ev, active, n)
	}
}

// warningFor returns the warning text for the post-increment attempt
// count n, or "" below the warn threshold.
func (g *Gate) warningFor(n int) string {
	switch {
	case n >= g.opts.KickThreshold:
		return "Final warning: the next attempt will remove you from this community."
	case n >= g.opts.WarnThreshold:
		return fmt.Sprintf("Warning: %d attempts remaining before removal.", g.opts.KickThreshold-n)
	default:
		return ""
	}
}

// removeMember kicks the user after the threshold is exceeded. The
// acting agent's capability is checked first; missing capability or a
// failed removal is logged, never retried.
func (g *Gate) removeMember(ctx context.Context, ev platform.Event, active *domain.Session, n int) {
	can, err := g.client.CanRemoveMembers(ctx)
	if err != nil {
		log.Printf("gate: capability check before removing %s: %v", ev.UserID, err)
		return
	}
	if !can {
		log.Printf("gate: cannot remove %s: member-removal capability missing", ev.UserID)
		return
	}
	reason := fmt.Sprintf("exceeded contact attempt limit (%d attempts)", n)
	if err := g.client.RemoveMember(ctx, ev.UserID, reason); err != nil {
		log.Printf("gate: remove member %s: %v", ev.UserID, err)
		return
	}
	notify.EmitAsync(g.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      notify.KindMemberRemoved,
		UserID:    ev.UserID,
		ThreadID:  active.ThreadID,
		Summary:   "member removed",
		Detail:    reason,
		CreatedAt: g.now().UTC(),
	})
}

func (g *Gate) exempt(roles []string) bool {
	for _, r := range roles {
		if _, ok := g.opts.ExemptRoles[r]; ok {
			return true
		}
	}
	return false
}

func (g *Gate) fail(ctx context.Context, ev platform.Event, err error) {
	log.Printf("gate: user %s: %v", ev.UserID, err)
	notify.EmitAsync(g.emitter, ctx, &notify.Event{
		ID:        uuid.New().String(),
		Kind:      notify.KindError,
		UserID:    ev.UserID,
		Summary:   "contact event failed",
		Detail:    err.Error(),
		CreatedAt: g.now().UTC(),
	})
}
