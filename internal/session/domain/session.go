package domain

import "time"

// Session represents one user's thread in the shared channel.
// A user has at most one active session at a time; inactive records are
// kept as history and never deleted.
type Session struct {
	ID           string // local record id
	UserID       string // platform user that owns the thread
	ThreadID     string // platform thread id
	ChannelID    string // channel the first contact arrived in
	AttemptCount int    // duplicate contacts recorded after creation
	IsActive     bool
	CreatedAt    time.Time
	ExpiresAt    time.Time // CreatedAt + TTL
}

// Expired reports whether the session's TTL has elapsed at the given time.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
