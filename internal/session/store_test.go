package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/common/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(4, 10, logger.Default())
}

func TestAppendMessageAssignsIDs(t *testing.T) {
	store := newTestStore(t)

	first := store.AppendMessage("s1", chat.Message{Role: chat.RoleUser, Content: "hi"})
	second := store.AppendMessage("s1", chat.Message{Role: chat.RoleAssistant, Content: "hello"})

	assert.Equal(t, "msg-1", first.ID)
	assert.Equal(t, "msg-2", second.ID)

	msgs := store.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestSeedMessagesRepairsCollisions(t *testing.T) {
	store := newTestStore(t)

	store.SeedMessages("s1", []chat.Message{
		{ID: "msg-1", Role: chat.RoleUser, Content: "a"},
		{ID: "msg-1", Role: chat.RoleAssistant, Content: "b"},
		{ID: "msg-3", Role: chat.RoleUser, Content: "c"},
	})

	msgs := store.Messages("s1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.NotEqual(t, "msg-1", msgs[1].ID)
	assert.Equal(t, "msg-3", msgs[2].ID)
	assert.True(t, store.Seeded("s1"))

	// Fresh ids must not collide with anything replayed.
	seen := map[string]bool{}
	for _, m := range msgs {
		seen[m.ID] = true
	}
	appended := store.AppendMessage("s1", chat.Message{Role: chat.RoleUser, Content: "d"})
	assert.False(t, seen[appended.ID])
}

func TestSeededEmptyHistory(t *testing.T) {
	store := newTestStore(t)
	store.SeedMessages("s1", nil)
	assert.False(t, store.Seeded("s1"))
}

func TestFlushDraft(t *testing.T) {
	store := newTestStore(t)

	store.AppendDraft("s1", "Hello")
	store.AppendDraft("s1", " world")
	assert.Equal(t, "Hello world", store.Draft("s1"))

	store.FlushDraft("s1")
	assert.Empty(t, store.Draft("s1"))

	msgs := store.Messages("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hello world", msgs[0].Content)

	// Flushing an empty draft must not add a message.
	store.FlushDraft("s1")
	assert.Len(t, store.Messages("s1"), 1)
}

func TestMessageCapTrimsOldest(t *testing.T) {
	store := NewStore(4, 3, logger.Default())

	for i := 0; i < 5; i++ {
		store.AppendMessage("s1", chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	msgs := store.Messages("s1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
	assert.Equal(t, "m4", msgs[2].Content)
}

func TestQuestionDrivesWaiting(t *testing.T) {
	store := newTestStore(t)

	q := &chat.AskUserQuestion{ToolUseID: "tu-1", Questions: []chat.Question{{Header: "Pick one"}}}
	store.SetQuestion("s1", q)
	assert.True(t, store.Waiting("s1"))
	assert.Equal(t, q, store.Question("s1"))

	store.SetQuestion("s1", nil)
	assert.False(t, store.Waiting("s1"))
	assert.Nil(t, store.Question("s1"))
}

func TestRekeyMovesStateInPlace(t *testing.T) {
	store := newTestStore(t)
	store.SetVisible("temp-id")

	store.AppendMessage("temp-id", chat.Message{Role: chat.RoleUser, Content: "hi"})
	store.AppendDraft("temp-id", "partial")

	store.Rekey("temp-id", "real-id")

	assert.Equal(t, "partial", store.Draft("real-id"))
	require.Len(t, store.Messages("real-id"), 1)

	// The old key must not resurrect the state.
	assert.Empty(t, store.Messages("temp-id"))
	assert.Empty(t, store.Draft("temp-id"))
}

func TestRekeySameIDIsNoop(t *testing.T) {
	store := newTestStore(t)
	store.AppendDraft("s1", "text")
	store.Rekey("s1", "s1")
	assert.Equal(t, "text", store.Draft("s1"))
}

func TestEvictionSkipsVisibleSession(t *testing.T) {
	store := NewStore(2, 10, logger.Default())
	store.SetVisible("s1")

	store.AppendMessage("s1", chat.Message{Role: chat.RoleUser, Content: "keep"})
	store.AppendMessage("s2", chat.Message{Role: chat.RoleUser, Content: "evictable"})
	store.AppendMessage("s3", chat.Message{Role: chat.RoleUser, Content: "new"})

	// s1 was touched first but is visible; s2 is the eviction candidate.
	assert.Len(t, store.Messages("s1"), 1)
	assert.Len(t, store.Messages("s3"), 1)
}

func TestSyncViewPrefersCachedState(t *testing.T) {
	store := newTestStore(t)
	store.AppendMessage("s1", chat.Message{Role: chat.RoleUser, Content: "cached"})

	prev := View{SessionID: "s1", Messages: []chat.Message{{Content: "stale"}}}
	view := store.SyncView("s1", prev)

	require.Len(t, view.Messages, 1)
	assert.Equal(t, "cached", view.Messages[0].Content)
}

func TestSyncViewPreservesInFlightMessages(t *testing.T) {
	store := newTestStore(t)

	// No cached state for s1, but the previous projection is for the same
	// session and already shows messages: it must survive the remount.
	prev := View{SessionID: "s1", Messages: []chat.Message{{Content: "in-flight"}}}
	view := store.SyncView("s1", prev)

	require.Len(t, view.Messages, 1)
	assert.Equal(t, "in-flight", view.Messages[0].Content)
}

func TestSyncViewResetsForOtherSession(t *testing.T) {
	store := newTestStore(t)

	prev := View{SessionID: "s1", Messages: []chat.Message{{Content: "old"}}}
	view := store.SyncView("s2", prev)

	assert.Equal(t, "s2", view.SessionID)
	assert.Empty(t, view.Messages)
	assert.Equal(t, chat.RunStateIdle, view.RunState)
}

func TestResetDiscardsState(t *testing.T) {
	store := newTestStore(t)
	store.AppendMessage("s1", chat.Message{Role: chat.RoleUser, Content: "hi"})
	store.SetRunState("s1", chat.RunStateRunning)

	store.Reset("s1")

	assert.Empty(t, store.Messages("s1"))
	assert.Equal(t, chat.RunStateIdle, store.RunState("s1"))
}
