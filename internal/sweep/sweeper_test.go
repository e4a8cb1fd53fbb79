package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"threadgate/internal/platform"
	"threadgate/internal/session/domain"
)

type memRepo struct {
	mu        sync.Mutex
	sessions  []*domain.Session
	listCalls int
}

func (r *memRepo) ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.IsActive && s.ExpiresAt.Before(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Deactivate(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ThreadID == threadID && s.IsActive {
			s.IsActive = false
		}
	}
	return nil
}

func (r *memRepo) get(threadID string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ThreadID == threadID {
			cp := *s
			return &cp
		}
	}
	return nil
}

type fakeCloser struct {
	mu        sync.Mutex
	fetchErrs map[string]error
	lockErrs  map[string]error
	archErrs  map[string]error
	fetches   map[string]int
	locks     map[string]int
	archives  map[string]int
}

func newFakeCloser() *fakeCloser {
	return &fakeCloser{
		fetchErrs: map[string]error{},
		lockErrs:  map[string]error{},
		archErrs:  map[string]error{},
		fetches:   map[string]int{},
		locks:     map[string]int{},
		archives:  map[string]int{},
	}
}

func (c *fakeCloser) FetchThread(ctx context.Context, threadID string) (*platform.ThreadInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[threadID]++
	if err := c.fetchErrs[threadID]; err != nil {
		return nil, err
	}
	return &platform.ThreadInfo{ID: threadID}, nil
}

func (c *fakeCloser) LockThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locks[threadID]++
	return c.lockErrs[threadID]
}

func (c *fakeCloser) ArchiveThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives[threadID]++
	return c.archErrs[threadID]
}

func (c *fakeCloser) counts(threadID string) (fetch, lock, archive int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[threadID], c.locks[threadID], c.archives[threadID]
}

func expiredSession(threadID string, expiredFor time.Duration) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID: "rec-" + threadID, UserID: "user-" + threadID, ThreadID: threadID,
		ChannelID: "chan-1", IsActive: true,
		CreatedAt: now.Add(-24*time.Hour - expiredFor),
		ExpiresAt: now.Add(-expiredFor),
	}
}

func notFoundErr() error {
	return &platform.Fault{
		Class:  platform.FaultPermanent,
		Reason: platform.ReasonUnknownResource,
		Err:    platform.ErrNotFound,
	}
}

func TestSweep_ExpiredThread_LockedArchivedDeactivated(t *testing.T) {
	sess := expiredSession("thread-1", time.Minute)
	wantExpiry := sess.ExpiresAt
	repo := &memRepo{sessions: []*domain.Session{sess}}
	closer := newFakeCloser()
	s := New(repo, closer, nil, time.Minute)

	s.sweep(context.Background())

	got := repo.get("thread-1")
	if got.IsActive {
		t.Error("session should be inactive after sweep")
	}
	if !got.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt changed: %v, want %v", got.ExpiresAt, wantExpiry)
	}
	if _, lock, arch := closer.counts("thread-1"); lock != 1 || arch != 1 {
		t.Errorf("lock=%d archive=%d, want 1 and 1", lock, arch)
	}
}

func TestSweep_ThreadGone_DeactivatesWithoutClosing(t *testing.T) {
	sess := expiredSession("thread-1", time.Minute)
	repo := &memRepo{sessions: []*domain.Session{sess}}
	closer := newFakeCloser()
	closer.fetchErrs["thread-1"] = notFoundErr()
	s := New(repo, closer, nil, time.Minute)

	s.sweep(context.Background())

	if got := repo.get("thread-1"); got.IsActive {
		t.Error("session should be inactive when the thread is gone")
	}
	if _, lock, arch := closer.counts("thread-1"); lock != 0 || arch != 0 {
		t.Errorf("lock=%d archive=%d, want no close operations on a gone thread", lock, arch)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	sess := expiredSession("thread-1", time.Minute)
	repo := &memRepo{sessions: []*domain.Session{sess}}
	closer := newFakeCloser()
	closer.fetchErrs["thread-1"] = notFoundErr()
	s := New(repo, closer, nil, time.Minute)

	s.sweep(context.Background())
	s.sweep(context.Background())

	if got := repo.get("thread-1"); got.IsActive {
		t.Error("session should stay inactive")
	}
	// The second sweep sees no expired active records; no duplicate side effects.
	if fetch, _, _ := closer.counts("thread-1"); fetch != 1 {
		t.Errorf("fetches = %d, want 1 (second sweep must be a no-op)", fetch)
	}
}

func TestSweep_TransientFault_LeavesRecordForRetry(t *testing.T) {
	sess := expiredSession("thread-1", time.Minute)
	repo := &memRepo{sessions: []*domain.Session{sess}}
	closer := newFakeCloser()
	closer.fetchErrs["thread-1"] = &platform.Fault{Class: platform.FaultTransient, Err: errors.New("rate limited")}
	s := New(repo, closer, nil, time.Minute)

	s.sweep(context.Background())

	if got := repo.get("thread-1"); !got.IsActive {
		t.Error("transient fault must leave the record active for the next tick")
	}

	// Platform recovers; the next sweep closes it.
	closer.mu.Lock()
	delete(closer.fetchErrs, "thread-1")
	closer.mu.Unlock()
	s.sweep(context.Background())

	if got := repo.get("thread-1"); got.IsActive {
		t.Error("recovered thread should be closed on the next sweep")
	}
}

func TestSweep_PermanentFault_DeactivatesImmediately(t *testing.T) {
	sess := expiredSession("thread-1", time.Minute)
	repo := &memRepo{sessions: []*domain.Session{sess}}
	closer := newFakeCloser()
	closer.lockErrs["thread-1"] = &platform.Fault{
		Class:  platform.FaultPermanent,
		Reason: platform.ReasonMissingAccess,
		Err:    errors.New("access revoked"),
	}
	s := New(repo, closer, nil, time.Minute)

	s.sweep(context.Background())

	if got := repo.get("thread-1"); got.IsActive {
		t.Error("permanent fault must deactivate immediately")
	}
}

func TestSweep_FailureIsolatedPerRecord(t *testing.T) {
	bad := expiredSession("thread-bad", 2*time.Minute)
	good := expiredSession("thread-good", time.Minute)
	repo := &memRepo{sessions: []*domain.Session{bad, good}}
	closer := newFakeCloser()
	closer.fetchErrs["thread-bad"] = &platform.Fault{Class: platform.FaultTransient, Err: errors.New("boom")}
	s := New(repo, closer, nil, time.Minute)

	s.sweep(context.Background())

	if got := repo.get("thread-bad"); !got.IsActive {
		t.Error("failing record should stay active")
	}
	if got := repo.get("thread-good"); got.IsActive {
		t.Error("one record's failure must not abort the rest of the sweep")
	}
}

func TestStart_RunsImmediately(t *testing.T) {
	sess := expiredSession("thread-1", time.Minute)
	repo := &memRepo{sessions: []*domain.Session{sess}}
	closer := newFakeCloser()
	s := New(repo, closer, nil, time.Hour)

	s.Start(context.Background())
	defer s.Stop(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := repo.get("thread-1"); !got.IsActive {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweeper did not run at start")
}

func TestSweepGuarded_SkipsOverlap(t *testing.T) {
	repo := &memRepo{}
	closer := newFakeCloser()
	s := New(repo, closer, nil, time.Minute)

	// With the guard held, the tick must not sweep.
	s.running.Store(true)
	s.sweepGuarded(context.Background())

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.listCalls != 0 {
		t.Errorf("listCalls = %d, want 0 while a sweep is in flight", repo.listCalls)
	}
}
