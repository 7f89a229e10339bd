// Package session tracks per-call state for the voice gateway: the retry
// budget for silent recognition attempts and the call's lifecycle state.
package session

import (
	"context"
	"errors"
)

// DefaultRetryBudget is the number of consecutive silence failures tolerated
// before the call is gracefully ended.
const DefaultRetryBudget = 3

// ErrInvalidTransition is returned when a state change is not allowed by the
// lifecycle table.
var ErrInvalidTransition = errors.New("invalid session state transition")

// CallSession is one active phone call.
type CallSession struct {
	// CallConnectionID is the identifier issued by the call-control service.
	CallConnectionID string `json:"call_connection_id"`
	// CallerID is the normalized caller number (leading "+").
	CallerID string `json:"caller_id"`
	// RetriesRemaining counts silence failures still tolerated. Never negative.
	RetriesRemaining int `json:"retries_remaining"`
	// State is the current lifecycle state.
	State State `json:"state"`
}

// NewCallSession creates a session with a full retry budget.
func NewCallSession(callConnectionID, callerID string) *CallSession {
	return &CallSession{
		CallConnectionID: callConnectionID,
		CallerID:         callerID,
		RetriesRemaining: DefaultRetryBudget,
		State:            StateConnecting,
	}
}

// Store is the per-call session table. Webhook batches for different calls
// arrive concurrently, so implementations must make every update atomic with
// respect to other requests touching the same key.
//
// A missing key is not an error: duplicate and late events for calls that
// already terminated are an expected property of at-least-once webhook
// delivery, and callers treat "not found" as "already terminated, ignore".
type Store interface {
	// Create stores a new session. If a live session already exists for the
	// call, it is left untouched and created is false, so a duplicate
	// connected event can never reset a partially spent retry budget.
	Create(ctx context.Context, s *CallSession) (created bool, err error)

	// Get retrieves a session by call connection id.
	Get(ctx context.Context, callConnectionID string) (*CallSession, bool, error)

	// DecrementRetries atomically decrements the retry counter, flooring at
	// zero. Returns the remaining budget, or ok=false if no session exists.
	DecrementRetries(ctx context.Context, callConnectionID string) (remaining int, ok bool, err error)

	// SetState transitions the session's lifecycle state. Returns
	// ErrInvalidTransition if the lifecycle table forbids the change, and
	// ok=false if no session exists.
	SetState(ctx context.Context, callConnectionID string, next State) (ok bool, err error)

	// Remove discards the session. Removing an absent session is a no-op.
	Remove(ctx context.Context, callConnectionID string) error
}
