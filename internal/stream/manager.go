// Package stream owns the single live event-stream connection and the
// session lifecycle around it: open gating, replay skipping, mid-stream
// session re-keying, terminal events, and teardown ordering.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibecode/agentdeck/internal/bus"
	"github.com/vibecode/agentdeck/internal/chat"
	apperrors "github.com/vibecode/agentdeck/internal/common/errors"
	"github.com/vibecode/agentdeck/internal/common/logger"
	"github.com/vibecode/agentdeck/internal/dispatch"
	"github.com/vibecode/agentdeck/internal/session"
)

// connection is one live stream. sessionID is mutable: a session-started
// event re-keys the connection in place without replacing the transport.
type connection struct {
	id        uuid.UUID
	sessionID string
	conn      Conn
	closed    bool
}

// Manager owns at most one live connection at a time. Opening a new stream
// always fully tears down the previous one first: listeners are invalidated,
// the flush timer is cancelled, and the transport is closed before any dial.
// Every frame handler re-checks connection identity under the lock, so a
// frame arriving after teardown is a no-op.
type Manager struct {
	mu            sync.Mutex
	transport     Transport
	store         *session.Store
	dispatcher    *dispatch.Dispatcher
	bus           bus.Bus
	logger        *logger.Logger
	streamURL     string
	flushInterval time.Duration

	active    *connection
	connected bool
	visible   string
	lastRun   map[string]chat.RunOptions

	flushTimer *time.Timer
	dirty      map[string]bool
}

// NewManager creates a stream lifecycle manager.
func NewManager(streamURL string, flushInterval time.Duration, transport Transport,
	store *session.Store, dispatcher *dispatch.Dispatcher, b bus.Bus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		transport:     transport,
		store:         store,
		dispatcher:    dispatcher,
		bus:           b,
		logger:        log.WithFields(zap.String("component", "stream-manager")),
		streamURL:     strings.TrimRight(streamURL, "/"),
		flushInterval: flushInterval,
		lastRun:       make(map[string]chat.RunOptions),
		dirty:         make(map[string]bool),
	}
}

// SetVisible marks the session the UI is currently displaying. Visibility
// drives status gating and protects the session from cache eviction.
func (m *Manager) SetVisible(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = sessionID
	m.store.SetVisible(sessionID)
}

// Visible returns the session the UI is currently displaying.
func (m *Manager) Visible() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// Connected reports whether the active stream has seen its open frame.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ActiveSessionID returns the session id the live connection is bound to,
// or empty when no connection exists.
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.sessionID
}

// LastRunOptions returns the run options last reported for a session.
func (m *Manager) LastRunOptions(sessionID string) (chat.RunOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts, ok := m.lastRun[sessionID]
	return opts, ok
}

// Open opens the event stream for a session. Any existing connection is
// fully torn down first; a connection already bound to the same session is
// left alone.
func (m *Manager) Open(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.sessionID == sessionID {
			return nil
		}
		m.closeActiveLocked()
	}

	streamURL := m.buildStreamURLLocked(sessionID)
	conn, err := m.transport.Dial(ctx, streamURL)
	if err != nil {
		return apperrors.TransportFailure(
			fmt.Sprintf("failed to open stream for session %s", sessionID), err)
	}

	c := &connection{id: uuid.New(), sessionID: sessionID, conn: conn}
	m.active = c
	m.store.MarkTerminated(sessionID, false)
	m.logger.Info("stream opened",
		zap.String("session_id", sessionID),
		zap.String("url", streamURL))

	go m.readLoop(c)
	return nil
}

// EnsureOpen opens the stream unless the active connection is already bound
// to the session.
func (m *Manager) EnsureOpen(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	alreadyOpen := m.active != nil && m.active.sessionID == sessionID
	m.mu.Unlock()

	if alreadyOpen {
		return nil
	}
	return m.Open(ctx, sessionID)
}

// Close tears down the active connection, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeActiveLocked()
}

// buildStreamURLLocked constructs the session-scoped stream URL. Replay is
// skipped when the cache already holds this session's history.
func (m *Manager) buildStreamURLLocked(sessionID string) string {
	streamURL := fmt.Sprintf("%s/api/sessions/%s/stream?activeOnly=1",
		m.streamURL, url.PathEscape(sessionID))
	if m.store.Seeded(sessionID) {
		streamURL += "&skipReplay=1"
	}
	return streamURL
}

// closeActiveLocked tears down the active connection: the connection is
// invalidated before the transport close so a read racing the teardown can
// never mutate state, and the pending flush timer is cancelled.
func (m *Manager) closeActiveLocked() {
	if m.active == nil {
		return
	}
	c := m.active
	c.closed = true
	m.active = nil

	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
		m.dirty = make(map[string]bool)
	}

	if err := c.conn.Close(); err != nil {
		m.logger.Debug("transport close failed", zap.Error(err))
	}

	if m.connected {
		m.connected = false
		m.bus.Publish(bus.SubjectSessionConnection, bus.NewEvent(
			bus.SubjectSessionConnection, c.sessionID,
			map[string]interface{}{"connected": false}))
	}
	m.logger.Info("stream closed", zap.String("session_id", c.sessionID))
}

// readLoop pumps frames off one connection until it fails or is closed.
func (m *Manager) readLoop(c *connection) {
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			m.handleTransportError(c, err)
			return
		}
		m.handleFrame(c, frame)
	}
}

// handleTransportError closes the connection on a transport failure. No
// retry is attempted and the waiting flag is left untouched; the UI only
// sees the connected flag drop.
func (m *Manager) handleTransportError(c *connection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != c || c.closed {
		return
	}
	m.logger.WithError(err).Warn("stream transport failed",
		zap.String("session_id", c.sessionID))
	m.closeActiveLocked()
}

// handleFrame processes one envelope frame. The whole frame, including
// normalizer dispatch, runs under the manager lock so frames on a single
// connection are applied strictly in arrival order and a re-key is atomic
// with respect to every other frame.
func (m *Manager) handleFrame(c *connection, frame Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != c || c.closed {
		return
	}

	switch frame.Event {
	case FrameOpen:
		m.connected = true
		m.bus.Publish(bus.SubjectSessionConnection, bus.NewEvent(
			bus.SubjectSessionConnection, c.sessionID,
			map[string]interface{}{"connected": true}))

	case FrameMessage:
		m.handleMessageLocked(c, frame.Data)

	case FrameEnd, FrameDone:
		sessionID := c.sessionID
		m.store.SetRunState(sessionID, chat.RunStateIdle)
		m.store.SetWaiting(sessionID, false)
		m.store.FlushDraft(sessionID)
		m.store.MarkTerminated(sessionID, true)
		m.closeActiveLocked()
		m.publishUpdatedLocked(sessionID)

	case FrameError:
		m.logger.Warn("stream error frame",
			zap.String("session_id", c.sessionID),
			zap.ByteString("data", frame.Data))
		m.closeActiveLocked()

	default:
		m.logger.Debug("ignoring unknown frame event",
			zap.String("event", frame.Event))
	}
}

// handleMessageLocked routes one message payload. The session-started
// re-key event is intercepted before normalizer dispatch because it mutates
// connection identity, which no provider handler may do partially.
func (m *Manager) handleMessageLocked(c *connection, data json.RawMessage) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Type == "session-started" {
		m.handleSessionStartedLocked(c, data)
		return
	}

	m.dispatcher.Dispatch(data, &streamContext{m: m, c: c})
	m.scheduleNotifyLocked(c.sessionID)
}

// handleSessionStartedLocked records the run options and re-keys the
// session in place when the backend promoted its id. The transport handle
// is deliberately untouched.
func (m *Manager) handleSessionStartedLocked(c *connection, data json.RawMessage) {
	var payload struct {
		SessionID      string   `json:"session_id"`
		PermissionMode string   `json:"permissionMode"`
		AllowedTools   []string `json:"allowedTools"`
		UseContinue    bool     `json:"useContinue"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		m.logger.WithError(err).Debug("dropping malformed session-started event")
		return
	}

	opts := chat.RunOptions{
		PermissionMode: payload.PermissionMode,
		AllowedTools:   payload.AllowedTools,
		UseContinue:    payload.UseContinue,
	}
	if payload.SessionID != "" && payload.SessionID != c.sessionID {
		m.rekeyLocked(c, payload.SessionID)
	}
	m.lastRun[c.sessionID] = opts
	m.store.SetRunState(c.sessionID, chat.RunStateRunning)
	m.publishUpdatedLocked(c.sessionID)
}

// rekeyLocked moves every session-id-keyed reference from the connection's
// current id to newID without a lifecycle edge.
func (m *Manager) rekeyLocked(c *connection, newID string) {
	oldID := c.sessionID
	if newID == "" || newID == oldID {
		return
	}

	m.store.Rekey(oldID, newID)
	if opts, ok := m.lastRun[oldID]; ok {
		delete(m.lastRun, oldID)
		m.lastRun[newID] = opts
	}
	if m.dirty[oldID] {
		delete(m.dirty, oldID)
		m.dirty[newID] = true
	}
	if m.visible == oldID {
		m.visible = newID
		m.store.SetVisible(newID)
	}
	c.sessionID = newID

	m.logger.Info("session rekeyed",
		zap.String("old_session_id", oldID),
		zap.String("new_session_id", newID))
}

// ApplyStatuses applies the externally owned session-status feed. A visible
// session that turned running gets a stream opened; a connected session that
// stopped running gets its stream closed without being marked terminated.
func (m *Manager) ApplyStatuses(ctx context.Context, statuses []chat.SessionStatus) error {
	m.mu.Lock()
	toOpen := ""
	for _, st := range statuses {
		if m.active != nil && m.active.sessionID == st.ID && st.Status != chat.RunStateRunning {
			m.closeActiveLocked()
		}
		if st.ID == m.visible && st.Status == chat.RunStateRunning && m.active == nil {
			toOpen = st.ID
		}
	}
	m.mu.Unlock()

	if toOpen == "" {
		return nil
	}
	return m.Open(ctx, toOpen)
}

// scheduleNotifyLocked marks a session dirty and arms the debounced UI
// notification. A zero interval publishes immediately.
func (m *Manager) scheduleNotifyLocked(sessionID string) {
	if m.flushInterval <= 0 {
		m.publishUpdatedLocked(sessionID)
		return
	}
	m.dirty[sessionID] = true
	if m.flushTimer == nil {
		m.flushTimer = time.AfterFunc(m.flushInterval, m.flushNotify)
	}
}

func (m *Manager) flushNotify() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushTimer = nil
	for sessionID := range m.dirty {
		m.publishUpdatedLocked(sessionID)
	}
	m.dirty = make(map[string]bool)
}

func (m *Manager) publishUpdatedLocked(sessionID string) {
	m.bus.Publish(bus.SubjectSessionUpdated, bus.NewEvent(
		bus.SubjectSessionUpdated, sessionID, nil))
}
