package reconcile

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
	mu          sync.Mutex
	deactivated []string
	err         error
}

func (r *memRepo) Deactivate(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deactivated = append(r.deactivated, threadID)
	return nil
}

type stubFetcher struct {
	info *platform.ThreadInfo
	err  error
}

func (f *stubFetcher) FetchThread(ctx context.Context, threadID string) (*platform.ThreadInfo, error) {
	return f.info, f.err
}

func testSession() *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID: "s1", UserID: "user-a", ThreadID: "thread-1", ChannelID: "chan-1",
		IsActive: true, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestStillActive_OpenThread(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, &stubFetcher{info: &platform.ThreadInfo{ID: "thread-1"}}, nil)

	ok, err := r.StillActive(context.Background(), testSession())
	if err != nil {
		t.Fatalf("StillActive: %v", err)
	}
	if !ok {
		t.Error("open thread should report still active")
	}
	if len(repo.deactivated) != 0 {
		t.Error("open thread must not be deactivated")
	}
}

func TestStillActive_ClosedThread_Deactivates(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, &stubFetcher{info: &platform.ThreadInfo{ID: "thread-1", Closed: true}}, nil)

	ok, err := r.StillActive(context.Background(), testSession())
	if err != nil {
		t.Fatalf("StillActive: %v", err)
	}
	if ok {
		t.Error("closed thread should report stale")
	}
	if len(repo.deactivated) != 1 || repo.deactivated[0] != "thread-1" {
		t.Errorf("deactivated = %v, want [thread-1]", repo.deactivated)
	}
}

func TestStillActive_NotFound_Deactivates(t *testing.T) {
	repo := &memRepo{}
	fetchErr := &platform.Fault{
		Class:  platform.FaultPermanent,
		Reason: platform.ReasonUnknownResource,
		Err:    platform.ErrNotFound,
	}
	r := New(repo, &stubFetcher{err: fetchErr}, nil)

	ok, err := r.StillActive(context.Background(), testSession())
	if err != nil {
		t.Fatalf("StillActive: %v", err)
	}
	if ok {
		t.Error("missing thread should report stale")
	}
	if len(repo.deactivated) != 1 {
		t.Errorf("deactivated = %v, want one entry", repo.deactivated)
	}
}

func TestStillActive_TransientFault_FailsOpen(t *testing.T) {
	repo := &memRepo{}
	fetchErr := &platform.Fault{Class: platform.FaultTransient, Err: errors.New("timeout")}
	r := New(repo, &stubFetcher{err: fetchErr}, nil)

	ok, err := r.StillActive(context.Background(), testSession())
	if err != nil {
		t.Fatalf("StillActive: %v", err)
	}
	if !ok {
		t.Error("transient fault must fail open (still active)")
	}
	if len(repo.deactivated) != 0 {
		t.Error("transient fault must not deactivate")
	}
}

func TestStillActive_UnclassifiedError_FailsOpen(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, &stubFetcher{err: errors.New("connection reset")}, nil)

	ok, err := r.StillActive(context.Background(), testSession())
	if err != nil {
		t.Fatalf("StillActive: %v", err)
	}
	if !ok {
		t.Error("unclassified error must fail open")
	}
}

func TestStillActive_DeactivateFailure_Surfaces(t *testing.T) {
	repo := &memRepo{err: errors.New("db down")}
	r := New(repo, &stubFetcher{info: &platform.ThreadInfo{ID: "thread-1", Archived: true}}, nil)

	_, err := r.StillActive(context.Background(), testSession())
	if err == nil {
		t.Fatal("deactivation failure should surface")
	}
}
