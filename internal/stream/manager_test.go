package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecode/agentdeck/internal/bus"
	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/common/logger"
	"github.com/vibecode/agentdeck/internal/dispatch"
	"github.com/vibecode/agentdeck/internal/protocol/streamjson"
	"github.com/vibecode/agentdeck/internal/session"
)

type fakeConn struct {
	frames    chan Frame
	closed    chan struct{}
	failed    chan error
	closeOnce sync.Once
	onClose   func()
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.failed:
		return Frame{}, err
	case <-c.closed:
		return Frame{}, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		frame.Data = data
	}
	select {
	case c.frames <- frame:
	case <-time.After(time.Second):
		t.Fatal("frame push timed out")
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	conns []*fakeConn
}

func (tr *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.calls = append(tr.calls, "dial "+url)
	c := &fakeConn{
		frames: make(chan Frame, 16),
		closed: make(chan struct{}),
		failed: make(chan error, 1),
		onClose: func() {
			tr.mu.Lock()
			tr.calls = append(tr.calls, "close")
			tr.mu.Unlock()
		},
	}
	tr.conns = append(tr.conns, c)
	return c, nil
}

func (tr *fakeTransport) callLog() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.calls))
	copy(out, tr.calls)
	return out
}

func (tr *fakeTransport) conn(i int) *fakeConn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.conns[i]
}

type testRig struct {
	transport *fakeTransport
	store     *session.Store
	manager   *Manager

	mu     sync.Mutex
	events []*bus.Event
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	log := logger.Default()
	rig := &testRig{
		transport: &fakeTransport{},
		store:     session.NewStore(16, 100, log),
	}

	eventBus := bus.NewMemoryBus(log)
	t.Cleanup(eventBus.Close)
	eventBus.Subscribe("*", func(ev *bus.Event) {
		rig.mu.Lock()
		rig.events = append(rig.events, ev)
		rig.mu.Unlock()
	})

	dispatcher := dispatch.NewDispatcher(streamjson.New(), log)
	rig.manager = NewManager("ws://backend", 0, rig.transport,
		rig.store, dispatcher, eventBus, log)
	t.Cleanup(rig.manager.Close)
	return rig
}

func (r *testRig) eventTypes(subject string) []*bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bus.Event
	for _, ev := range r.events {
		if ev.Type == subject {
			out = append(out, ev)
		}
	}
	return out
}

func TestOpenBuildsSessionScopedURL(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	calls := rig.transport.callLog()
	require.Len(t, calls, 1)
	assert.Equal(t, "dial ws://backend/api/sessions/s1/stream?activeOnly=1", calls[0])
}

func TestOpenSkipsReplayForSeededSession(t *testing.T) {
	rig := newTestRig(t)
	rig.store.SeedMessages("s1", []chat.Message{{ID: "msg-1", Role: chat.RoleUser, Content: "hi"}})

	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	calls := rig.transport.callLog()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "activeOnly=1")
	assert.Contains(t, calls[0], "skipReplay=1")
}

func TestOpenWithEmptyHistoryOmitsSkipReplay(t *testing.T) {
	rig := newTestRig(t)
	rig.store.SeedMessages("s1", nil)

	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	calls := rig.transport.callLog()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "skipReplay")
}

func TestCloseBeforeOpen(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.manager.Open(context.Background(), "s1"))
	require.NoError(t, rig.manager.Open(context.Background(), "s2"))

	calls := rig.transport.callLog()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0], "/s1/")
	assert.Equal(t, "close", calls[1])
	assert.Contains(t, calls[2], "/s2/")
}

func TestOpenSameSessionIsNoop(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.manager.Open(context.Background(), "s1"))
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	assert.Len(t, rig.transport.callLog(), 1)
}

func TestOpenFrameFlipsConnected(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	assert.False(t, rig.manager.Connected())
	rig.transport.conn(0).push(t, FrameOpen, nil)

	require.Eventually(t, rig.manager.Connected, time.Second, 5*time.Millisecond)

	events := rig.eventTypes(bus.SubjectSessionConnection)
	require.NotEmpty(t, events)
	assert.Equal(t, true, events[0].Data["connected"])
}

func TestMessageFramesReachTheNormalizer(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	conn := rig.transport.conn(0)
	conn.push(t, FrameMessage, map[string]any{
		"type":  "content_block_delta",
		"delta": map[string]any{"text": "Hello"},
	})
	conn.push(t, FrameMessage, map[string]any{
		"type":  "content_block_delta",
		"delta": map[string]any{"text": " world"},
	})

	require.Eventually(t, func() bool {
		return rig.store.Draft("s1") == "Hello world"
	}, time.Second, 5*time.Millisecond)
}

func TestRekeyKeepsTransportHandle(t *testing.T) {
	rig := newTestRig(t)
	rig.manager.SetVisible("temp-id")
	require.NoError(t, rig.manager.Open(context.Background(), "temp-id"))

	conn := rig.transport.conn(0)
	conn.push(t, FrameMessage, map[string]any{
		"type":  "content_block_delta",
		"delta": map[string]any{"text": "partial"},
	})
	conn.push(t, FrameMessage, map[string]any{
		"type":           "session-started",
		"session_id":     "real-id",
		"permissionMode": "acceptEdits",
		"useContinue":    true,
	})

	require.Eventually(t, func() bool {
		return rig.manager.ActiveSessionID() == "real-id"
	}, time.Second, 5*time.Millisecond)

	// Same transport handle: exactly one dial, no close.
	calls := rig.transport.callLog()
	require.Len(t, calls, 1)

	// State moved with the id, and the visible session followed.
	assert.Equal(t, "partial", rig.store.Draft("real-id"))
	assert.Equal(t, "real-id", rig.manager.Visible())

	opts, ok := rig.manager.LastRunOptions("real-id")
	require.True(t, ok)
	assert.Equal(t, "acceptEdits", opts.PermissionMode)
	assert.True(t, opts.UseContinue)

	// Frames after the re-key land on the new id.
	conn.push(t, FrameMessage, map[string]any{
		"type":  "content_block_delta",
		"delta": map[string]any{"text": " done"},
	})
	require.Eventually(t, func() bool {
		return rig.store.Draft("real-id") == "partial done"
	}, time.Second, 5*time.Millisecond)
}

func TestTerminalEndFinalizesSession(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	conn := rig.transport.conn(0)
	conn.push(t, FrameOpen, nil)
	require.Eventually(t, rig.manager.Connected, time.Second, 5*time.Millisecond)

	rig.store.SetWaiting("s1", true)
	rig.store.AppendDraft("s1", "last words")
	conn.push(t, FrameEnd, map[string]any{"exitCode": 0})

	require.Eventually(t, func() bool {
		return !rig.manager.Connected()
	}, time.Second, 5*time.Millisecond)

	view := rig.store.Snapshot("s1")
	assert.Equal(t, chat.RunStateIdle, view.RunState)
	assert.False(t, view.Waiting)
	assert.True(t, view.Terminated)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "last words", view.Messages[0].Content)
	assert.Equal(t, "", rig.manager.ActiveSessionID())
}

func TestStaleOpenFrameIsNoop(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	conn := rig.transport.conn(0)
	conn.push(t, FrameOpen, nil)
	require.Eventually(t, rig.manager.Connected, time.Second, 5*time.Millisecond)

	conn.push(t, FrameEnd, nil)
	require.Eventually(t, func() bool {
		return !rig.manager.Connected()
	}, time.Second, 5*time.Millisecond)

	// A late open frame on the torn-down handle must not resurrect the
	// connected flag.
	select {
	case conn.frames <- Frame{Event: FrameOpen}:
	default:
	}
	time.Sleep(50 * time.Millisecond)
	assert.False(t, rig.manager.Connected())
}

func TestTransportErrorClosesWithoutRetry(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	conn := rig.transport.conn(0)
	conn.push(t, FrameOpen, nil)
	require.Eventually(t, rig.manager.Connected, time.Second, 5*time.Millisecond)

	rig.store.SetWaiting("s1", true)
	conn.failed <- errors.New("connection reset by peer")

	require.Eventually(t, func() bool {
		return !rig.manager.Connected()
	}, time.Second, 5*time.Millisecond)

	// No reconnect, no terminated mark, waiting untouched.
	require.Eventually(t, func() bool {
		return len(rig.transport.callLog()) == 2 // the original dial plus its close
	}, time.Second, 5*time.Millisecond)
	view := rig.store.Snapshot("s1")
	assert.False(t, view.Terminated)
	assert.True(t, view.Waiting)
}

func TestApplyStatusesOpensVisibleRunningSession(t *testing.T) {
	rig := newTestRig(t)
	rig.manager.SetVisible("s1")

	err := rig.manager.ApplyStatuses(context.Background(), []chat.SessionStatus{
		{ID: "s1", Status: chat.RunStateRunning},
		{ID: "s2", Status: chat.RunStateRunning},
	})
	require.NoError(t, err)

	calls := rig.transport.callLog()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "/s1/")
}

func TestApplyStatusesIgnoresInvisibleSessions(t *testing.T) {
	rig := newTestRig(t)
	rig.manager.SetVisible("s1")

	err := rig.manager.ApplyStatuses(context.Background(), []chat.SessionStatus{
		{ID: "s2", Status: chat.RunStateRunning},
	})
	require.NoError(t, err)

	assert.Empty(t, rig.transport.callLog())
}

func TestApplyStatusesClosesStoppedSession(t *testing.T) {
	rig := newTestRig(t)
	rig.manager.SetVisible("s1")
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	err := rig.manager.ApplyStatuses(context.Background(), []chat.SessionStatus{
		{ID: "s1", Status: chat.RunStateIdle},
	})
	require.NoError(t, err)

	assert.Equal(t, "", rig.manager.ActiveSessionID())
	// Closed by gating, not by a terminal event.
	assert.False(t, rig.store.Snapshot("s1").Terminated)
}

func TestErrorFrameClosesConnection(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.manager.Open(context.Background(), "s1"))

	conn := rig.transport.conn(0)
	conn.push(t, FrameOpen, nil)
	require.Eventually(t, rig.manager.Connected, time.Second, 5*time.Millisecond)

	conn.push(t, FrameError, map[string]any{"message": "stream broken"})

	require.Eventually(t, func() bool {
		return !rig.manager.Connected()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", rig.manager.ActiveSessionID())
}

func TestDebouncedNotifyCoalescesUpdates(t *testing.T) {
	log := logger.Default()
	transport := &fakeTransport{}
	store := session.NewStore(16, 100, log)
	eventBus := bus.NewMemoryBus(log)
	t.Cleanup(eventBus.Close)

	var mu sync.Mutex
	updates := 0
	eventBus.Subscribe(bus.SubjectSessionUpdated, func(ev *bus.Event) {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	dispatcher := dispatch.NewDispatcher(streamjson.New(), log)
	manager := NewManager("ws://backend", 20*time.Millisecond, transport,
		store, dispatcher, eventBus, log)
	t.Cleanup(manager.Close)

	require.NoError(t, manager.Open(context.Background(), "s1"))
	conn := transport.conn(0)
	for i := 0; i < 10; i++ {
		conn.push(t, FrameMessage, map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"text": fmt.Sprintf("%d", i)},
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updates > 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	got := updates
	mu.Unlock()
	assert.Less(t, got, 10, "ten deltas should coalesce into fewer notifications")
	assert.True(t, strings.HasPrefix(store.Draft("s1"), "012"))
}
