// Package notify is the one-way notification sink for session state
// transitions. Emission is best-effort: callers never wait on it for
// correctness and failures are logged, not propagated.
package notify

import (
	"context"
	"time"
)

// Event kinds emitted on session state transitions.
const (
	KindSessionCreated     = "session_created"
	KindDuplicateAttempt   = "duplicate_attempt"
	KindWarningIssued      = "warning_issued"
	KindMemberRemoved      = "member_removed"
	KindSessionExpired     = "session_expired"
	KindSessionDeactivated = "session_deactivated"
	KindError              = "error"
)

// Event is one notification. Summary is a short human line; Detail
// carries kind-specific context (attempt counts, fault text).
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Emitter emits notification events. Callers use it best-effort: log and ignore errors.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Multi fans one event out to several emitters. Emit returns the first
// error but still calls every emitter.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event *Event) error {
	var firstErr error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
