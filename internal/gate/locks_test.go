package gate

import (
	"sync"
	"testing"
	"time"
)

func TestLockArena_MutualExclusion(t *testing.T) {
	arena := newLockArena()

	const n = 50
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := arena.Acquire("user-a")
			defer release()
			// Unsynchronized increment; the arena lock is the only guard.
			c := counter
			counter = c + 1
		}()
	}
	wg.Wait()

	if counter != n {
		t.Errorf("counter = %d, want %d", counter, n)
	}
}

func TestLockArena_ReclaimsUnusedLocks(t *testing.T) {
	arena := newLockArena()

	release := arena.Acquire("user-a")
	release()

	arena.mu.Lock()
	defer arena.mu.Unlock()
	if len(arena.m) != 0 {
		t.Errorf("arena holds %d locks after release, want 0", len(arena.m))
	}
}

func TestLockArena_DifferentUsersDoNotBlock(t *testing.T) {
	arena := newLockArena()

	releaseA := arena.Acquire("user-a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := arena.Acquire("user-b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("user-b blocked behind user-a's lock")
	}
}

func TestLockArena_SecondAcquireWaits(t *testing.T) {
	arena := newLockArena()

	release := arena.Acquire("user-a")

	acquired := make(chan struct{})
	go func() {
		r := arena.Acquire("user-a")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should wait for the first to release")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}
