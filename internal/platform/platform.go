// Package platform defines the boundary with the messaging platform: the
// capability set the core consumes, the inbound event stream, and the
// classification of platform faults into transient and permanent.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for expected platform outcomes. Adapters must return
// these (possibly wrapped) so the core can branch without seeing
// platform-specific codes.
var (
	// ErrNotFound means the thread or resource no longer exists.
	ErrNotFound = errors.New("platform: not found")
	// ErrDirectMessagesDisabled means the user cannot receive direct messages.
	ErrDirectMessagesDisabled = errors.New("platform: direct messages disabled")
	// ErrForbidden means the acting agent lacks permission for the operation.
	ErrForbidden = errors.New("platform: forbidden")
)

// FaultClass partitions platform failures by whether a retry can ever succeed.
type FaultClass int

const (
	// FaultTransient covers network errors, rate limits, and temporary
	// service errors. Safe to retry on the next cycle.
	FaultTransient FaultClass = iota
	// FaultPermanent covers failures that will never succeed on retry;
	// local state should be corrected to match.
	FaultPermanent
)

// PermanentReason names why a permanent fault can never succeed.
type PermanentReason string

const (
	ReasonUnknownResource   PermanentReason = "unknown_resource"
	ReasonUnknownChannel    PermanentReason = "unknown_channel"
	ReasonMissingAccess     PermanentReason = "missing_access"
	ReasonMissingCapability PermanentReason = "missing_capability"
)

// Fault wraps a platform error with its classification. Adapters produce
// Faults; the core inspects them via Classify.
type Fault struct {
	Class  FaultClass
	Reason PermanentReason // set only for FaultPermanent
	Err    error
}

func (f *Fault) Error() string {
	if f.Class == FaultPermanent {
		return fmt.Sprintf("platform: permanent fault (%s): %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("platform: transient fault: %v", f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Classify returns the fault class of err. Errors that are not a Fault
// (and not nil) are treated as transient: an unclassified failure must
// never trigger a permanent state correction.
func Classify(err error) FaultClass {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return FaultTransient
}

// IsPermanent reports whether err is classified as a permanent fault.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == FaultPermanent
}

// ThreadInfo is the platform's view of a thread.
type ThreadInfo struct {
	ID       string
	Closed   bool
	Locked   bool
	Archived bool
}

// Open reports whether the thread is still usable as an active session.
func (t *ThreadInfo) Open() bool {
	return !t.Closed && !t.Locked && !t.Archived
}

// Client is the set of platform capabilities the core consumes.
type Client interface {
	// OpenThread creates a thread in the channel and returns its id.
	// ttl is passed to the platform as an auto-archive hint.
	OpenThread(ctx context.Context, channelID, title string, ttl time.Duration) (string, error)
	// CloseThread closes the thread.
	CloseThread(ctx context.Context, threadID string) error
	// LockThread prevents further replies in the thread.
	LockThread(ctx context.Context, threadID string) error
	// ArchiveThread archives the thread.
	ArchiveThread(ctx context.Context, threadID string) error
	// FetchThread returns the thread's current state, or ErrNotFound.
	FetchThread(ctx context.Context, threadID string) (*ThreadInfo, error)
	// RemoveMember removes the user from the community with an audit reason.
	RemoveMember(ctx context.Context, userID, reason string) error
	// SendDirect sends a direct message to the user. Returns
	// ErrDirectMessagesDisabled if the user cannot be messaged.
	SendDirect(ctx context.Context, userID, text string) error
	// DeleteMessage removes a message from its channel. Returns
	// ErrForbidden when the acting agent may not delete it.
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// CanRemoveMembers reports whether the acting agent holds the
	// member-removal capability.
	CanRemoveMembers(ctx context.Context) (bool, error)
}

// Event type discriminators for the webhook stream.
const (
	EventMessageCreated = "message_created"
	EventThreadRemoved  = "thread_removed"
)

// Event is one inbound platform event. MessageID, ChannelID, and Roles
// are set for message_created; ThreadID for thread_removed (and for
// message_created when the message was posted inside a thread).
type Event struct {
	Type      string   `json:"type"`
	UserID    string   `json:"user_id"`
	ChannelID string   `json:"channel_id,omitempty"`
	ThreadID  string   `json:"thread_id,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Handler consumes platform events. Implementations must be safe for
// concurrent calls; the webhook dispatches each event on its own goroutine.
type Handler interface {
	HandleMessageCreated(ctx context.Context, ev Event)
	HandleThreadRemoved(ctx context.Context, ev Event)
}
