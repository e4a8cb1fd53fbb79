package gate

import "sync"

// lockArena hands out per-user mutexes on demand and reclaims them once
// no caller holds or waits on them. Serializes session-open decisions
// per user without a global lock; different users never contend.
type lockArena struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newLockArena() *lockArena {
	return &lockArena{m: make(map[string]*userLock)}
}

// Acquire blocks until the caller holds the user's lock and returns the
// release function. Release must be called on all paths.
func (a *lockArena) Acquire(userID string) func() {
	a.mu.Lock()
	l, ok := a.m[userID]
	if !ok {
		l = &userLock{}
		a.m[userID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.m, userID)
		}
		a.mu.Unlock()
	}
}
