// Package protocol defines the contract between the event dispatcher and
// the per-upstream normalizers. Each normalizer is a registry mapping event
// type strings to handlers; all handlers mutate session state exclusively
// through the Context interface.
package protocol

import (
	"github.com/vibecode/agentdeck/internal/chat"
)

// Event is a parsed upstream event: its type discriminator plus the raw
// decoded object for handler-specific field access.
type Event struct {
	Type string
	Raw  map[string]any
}

// Context is the mutation surface handlers operate on. Implementations bind
// a live connection to the session cache; every method is a no-op once the
// connection has been superseded.
type Context interface {
	// SessionID returns the session the connection is currently bound to.
	SessionID() string

	// AppendText appends text verbatim to the in-progress assistant draft.
	AppendText(text string)

	// AppendOverlapText appends a chunk after trimming any tail of the
	// draft that the chunk resends.
	AppendOverlapText(chunk string)

	// ReconcileSnapshot merges a full-text snapshot against the draft,
	// appending only text not already shown.
	ReconcileSnapshot(snapshot string)

	// Draft returns the in-progress assistant text.
	Draft() string

	// FlushDraft turns a non-empty draft into an appended assistant message.
	FlushDraft()

	// AddMessage appends a complete message to the transcript.
	AddMessage(role chat.Role, content string)

	// SetActivity sets the tool activity indicator shown to the user.
	SetActivity(activity string)

	// ClearActivity clears the tool activity indicator.
	ClearActivity()

	// SetSessionID re-keys the session without touching the transport.
	SetSessionID(sessionID string)

	// ClearStoredSession forgets the stored session id after the backend
	// reports the session can no longer be resumed.
	ClearStoredSession()

	// SetWaiting flips the waiting-for-user-input flag.
	SetWaiting(waiting bool)

	// SetRunState sets the session lifecycle state.
	SetRunState(state chat.RunState)

	// Denials returns the denials currently stored for the session.
	Denials() []chat.PermissionDenial

	// SetDenials replaces the stored denials. Pass nil to clear.
	SetDenials(denials []chat.PermissionDenial)

	// MergeDenials deduplicates the given denials against the stored ones
	// and stores the result.
	MergeDenials(denials []chat.PermissionDenial)

	// SetPendingQuestion sets or clears the pending user question.
	SetPendingQuestion(q *chat.AskUserQuestion)

	// SetRunOptions records the options of the current run for retry.
	SetRunOptions(opts chat.RunOptions)
}

// Handler processes one upstream event.
type Handler func(ev Event, ctx Context)

// Registry maps upstream event type strings to handlers. Adding support for
// a new event type is a map entry, never a dispatch change; unknown types
// fall through to the dispatcher's default behavior.
type Registry map[string]Handler

// Lookup returns the handler for an event type.
func (r Registry) Lookup(eventType string) (Handler, bool) {
	h, ok := r[eventType]
	return h, ok
}
