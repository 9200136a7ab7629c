package stream

import (
	"github.com/vibecode/agentdeck/internal/bus"
	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/textutil"
)

// streamContext binds one live connection to the session cache. It is only
// ever used inside handleFrame, so every method runs with the manager lock
// held; none of them may take it again.
type streamContext struct {
	m *Manager
	c *connection
}

func (ctx *streamContext) SessionID() string {
	return ctx.c.sessionID
}

func (ctx *streamContext) AppendText(text string) {
	if text == "" {
		return
	}
	ctx.m.store.AppendDraft(ctx.c.sessionID, text)
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) AppendOverlapText(chunk string) {
	ctx.AppendText(textutil.OverlapDelta(ctx.Draft(), chunk))
}

func (ctx *streamContext) ReconcileSnapshot(snapshot string) {
	if delta, ok := textutil.SnapshotDelta(ctx.Draft(), snapshot); ok {
		ctx.AppendText(delta)
	}
}

func (ctx *streamContext) Draft() string {
	return ctx.m.store.Draft(ctx.c.sessionID)
}

func (ctx *streamContext) FlushDraft() {
	ctx.m.store.FlushDraft(ctx.c.sessionID)
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) AddMessage(role chat.Role, content string) {
	ctx.m.store.AppendMessage(ctx.c.sessionID, chat.Message{Role: role, Content: content})
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) SetActivity(activity string) {
	ctx.m.store.SetActivity(ctx.c.sessionID, activity)
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) ClearActivity() {
	ctx.m.store.SetActivity(ctx.c.sessionID, "")
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) SetSessionID(sessionID string) {
	ctx.m.rekeyLocked(ctx.c, sessionID)
}

// ClearStoredSession forgets everything keyed by the session id after the
// backend reported it unresumable. The UI learns via a session.updated event
// carrying the cleared flag.
func (ctx *streamContext) ClearStoredSession() {
	sessionID := ctx.c.sessionID
	delete(ctx.m.lastRun, sessionID)
	ctx.m.bus.Publish(bus.SubjectSessionUpdated, bus.NewEvent(
		bus.SubjectSessionUpdated, sessionID,
		map[string]interface{}{"session_cleared": true}))
}

func (ctx *streamContext) SetWaiting(waiting bool) {
	ctx.m.store.SetWaiting(ctx.c.sessionID, waiting)
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) SetRunState(state chat.RunState) {
	ctx.m.store.SetRunState(ctx.c.sessionID, state)
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) Denials() []chat.PermissionDenial {
	return ctx.m.store.Denials(ctx.c.sessionID)
}

func (ctx *streamContext) SetDenials(denials []chat.PermissionDenial) {
	ctx.m.store.SetDenials(ctx.c.sessionID, denials)
	ctx.m.scheduleNotifyLocked(ctx.c.sessionID)
}

func (ctx *streamContext) MergeDenials(denials []chat.PermissionDenial) {
	merged := textutil.DedupeDenials(append(ctx.Denials(), denials...))
	ctx.SetDenials(merged)
}

// SetPendingQuestion publishes immediately rather than through the debounce:
// a question blocks the user, so the UI must not lag behind it.
func (ctx *streamContext) SetPendingQuestion(q *chat.AskUserQuestion) {
	sessionID := ctx.c.sessionID
	ctx.m.store.SetQuestion(sessionID, q)
	ctx.m.bus.Publish(bus.SubjectSessionQuestion, bus.NewEvent(
		bus.SubjectSessionQuestion, sessionID,
		map[string]interface{}{"pending": q != nil}))
}

func (ctx *streamContext) SetRunOptions(opts chat.RunOptions) {
	ctx.m.lastRun[ctx.c.sessionID] = opts
}
