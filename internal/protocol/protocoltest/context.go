// Package protocoltest provides a recording Context implementation for
// normalizer tests.
package protocoltest

import (
	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/textutil"
)

// RecordedMessage is one AddMessage call.
type RecordedMessage struct {
	Role    chat.Role
	Content string
}

// Context records every mutation a handler performs. Text appends maintain
// a real draft so snapshot and overlap reconciliation behave as they do in
// production.
type Context struct {
	Session        string
	DraftText      string
	Appended       []string
	Messages       []RecordedMessage
	Activity       string
	ActivitySet    []string
	Cleared        bool
	Flushed        int
	Waiting        bool
	WaitingSet     bool
	RunState       chat.RunState
	StoredDenials  []chat.PermissionDenial
	Question       *chat.AskUserQuestion
	RunOptions     chat.RunOptions
	SessionCleared bool
}

// New creates a recording context bound to a session id.
func New(sessionID string) *Context {
	return &Context{Session: sessionID}
}

func (c *Context) SessionID() string { return c.Session }

func (c *Context) AppendText(text string) {
	c.DraftText += text
	c.Appended = append(c.Appended, text)
}

func (c *Context) AppendOverlapText(chunk string) {
	c.AppendText(textutil.OverlapDelta(c.DraftText, chunk))
}

func (c *Context) ReconcileSnapshot(snapshot string) {
	if delta, ok := textutil.SnapshotDelta(c.DraftText, snapshot); ok {
		c.AppendText(delta)
	}
}

func (c *Context) Draft() string { return c.DraftText }

func (c *Context) FlushDraft() {
	if c.DraftText == "" {
		return
	}
	c.Messages = append(c.Messages, RecordedMessage{Role: chat.RoleAssistant, Content: c.DraftText})
	c.DraftText = ""
	c.Flushed++
}

func (c *Context) AddMessage(role chat.Role, content string) {
	c.Messages = append(c.Messages, RecordedMessage{Role: role, Content: content})
}

func (c *Context) SetActivity(activity string) {
	c.Activity = activity
	c.ActivitySet = append(c.ActivitySet, activity)
}

func (c *Context) ClearActivity() {
	c.Activity = ""
	c.Cleared = true
}

func (c *Context) SetSessionID(sessionID string) { c.Session = sessionID }

func (c *Context) ClearStoredSession() {
	c.Session = ""
	c.SessionCleared = true
}

func (c *Context) SetWaiting(waiting bool) {
	c.Waiting = waiting
	c.WaitingSet = true
}

func (c *Context) SetRunState(state chat.RunState) { c.RunState = state }

func (c *Context) Denials() []chat.PermissionDenial { return c.StoredDenials }

func (c *Context) SetDenials(denials []chat.PermissionDenial) {
	c.StoredDenials = denials
}

func (c *Context) MergeDenials(denials []chat.PermissionDenial) {
	c.StoredDenials = textutil.DedupeDenials(append(c.StoredDenials, denials...))
}

func (c *Context) SetPendingQuestion(q *chat.AskUserQuestion) {
	c.Question = q
	c.Waiting = q != nil
}

func (c *Context) SetRunOptions(opts chat.RunOptions) { c.RunOptions = opts }
