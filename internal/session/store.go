// Package session holds the per-session live state cache: transcripts,
// draft text, run state, denials, and the pending question for every
// session id the process has touched.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/common/logger"
	"github.com/vibecode/agentdeck/internal/textutil"
)

// LiveState is the mutable state of one session. All access goes through
// the Store so that a single lock serializes every mutation.
type LiveState struct {
	Messages     []chat.Message
	OutputBuffer string
	Draft        string // assistant message in progress
	RunState     chat.RunState
	Waiting      bool
	Activity     string
	Terminated   bool
	Denials      []chat.PermissionDenial
	Question     *chat.AskUserQuestion

	seeded      bool
	lastTouched time.Time
}

// View is an immutable projection of one session for the UI.
type View struct {
	SessionID  string
	Messages   []chat.Message
	Draft      string
	RunState   chat.RunState
	Waiting    bool
	Activity   string
	Terminated bool
	Denials    []chat.PermissionDenial
	Question   *chat.AskUserQuestion
}

// Store is the session-id-keyed cache of live session state. Entries are
// created lazily on first touch and evicted least-recently-touched once the
// configured capacity is exceeded. The visible session is never evicted.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*LiveState
	counter     textutil.Counter
	visible     string
	maxSessions int
	maxMessages int
	logger      *logger.Logger
}

// NewStore creates a session store with the given capacity limits.
func NewStore(maxSessions, maxMessages int, log *logger.Logger) *Store {
	if maxSessions <= 0 {
		maxSessions = 64
	}
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	return &Store{
		sessions:    make(map[string]*LiveState),
		maxSessions: maxSessions,
		maxMessages: maxMessages,
		logger:      log.WithFields(zap.String("component", "session-store")),
	}
}

// get returns the live state for a session, creating it lazily.
// Caller must hold s.mu.
func (s *Store) get(sessionID string) *LiveState {
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &LiveState{RunState: chat.RunStateIdle}
		s.sessions[sessionID] = state
		s.evictLocked()
	}
	state.lastTouched = time.Now()
	return state
}

// evictLocked drops the least-recently-touched sessions beyond capacity,
// skipping the visible one.
func (s *Store) evictLocked() {
	for len(s.sessions) > s.maxSessions {
		oldestID := ""
		var oldest time.Time
		for id, state := range s.sessions {
			if id == s.visible {
				continue
			}
			if oldestID == "" || state.lastTouched.Before(oldest) {
				oldestID = id
				oldest = state.lastTouched
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.sessions, oldestID)
		s.logger.Debug("evicted session state", zap.String("session_id", oldestID))
	}
}

// SetVisible marks the session currently shown by the UI.
func (s *Store) SetVisible(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = sessionID
}

// NextMessageID returns a fresh message id that cannot collide with any id
// the counter has seen.
func (s *Store) NextMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter.Next()
}

// AppendMessage appends a message to a session transcript, assigning an id
// if the message has none. Oldest messages are trimmed beyond capacity.
func (s *Store) AppendMessage(sessionID string, msg chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.counter.Next()
	}
	state := s.get(sessionID)
	state.Messages = append(state.Messages, msg)
	if len(state.Messages) > s.maxMessages {
		state.Messages = state.Messages[len(state.Messages)-s.maxMessages:]
	}
	return msg
}

// Messages returns a copy of a session's transcript.
func (s *Store) Messages(sessionID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	out := make([]chat.Message, len(state.Messages))
	copy(out, state.Messages)
	return out
}

// LastUserMessage returns the most recent user message, if any.
func (s *Store) LastUserMessage(sessionID string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == chat.RoleUser {
			return state.Messages[i], true
		}
	}
	return chat.Message{}, false
}

// SeedMessages loads replayed history into a session, repairing id
// collisions and seeding the id counter past the highest replayed id.
func (s *Store) SeedMessages(sessionID string, msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	s.counter.Seed(textutil.MaxMessageID(msgs))
	state.Messages = textutil.DedupeMessageIDs(msgs, &s.counter)
	state.seeded = len(state.Messages) > 0
}

// Seeded reports whether a session holds replayed history, which makes the
// stream open with replay skipping.
func (s *Store) Seeded(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).seeded
}

// AppendDraft appends text to the in-progress assistant message and the
// session output buffer, returning the draft after the append.
func (s *Store) AppendDraft(sessionID, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	state.Draft += text
	state.OutputBuffer += text
	return state.Draft
}

// Draft returns the in-progress assistant text.
func (s *Store) Draft(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).Draft
}

// FlushDraft converts a non-empty draft into an appended assistant message.
func (s *Store) FlushDraft(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	if state.Draft == "" {
		return
	}
	state.Messages = append(state.Messages, chat.Message{
		ID:      s.counter.Next(),
		Role:    chat.RoleAssistant,
		Content: state.Draft,
	})
	if len(state.Messages) > s.maxMessages {
		state.Messages = state.Messages[len(state.Messages)-s.maxMessages:]
	}
	state.Draft = ""
}

// SetActivity sets the current tool activity indicator.
func (s *Store) SetActivity(sessionID, activity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).Activity = activity
}

// Activity returns the current tool activity indicator.
func (s *Store) Activity(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).Activity
}

// SetWaiting flips the waiting-for-user-input flag.
func (s *Store) SetWaiting(sessionID string, waiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).Waiting = waiting
}

// Waiting reports the waiting-for-user-input flag.
func (s *Store) Waiting(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).Waiting
}

// SetRunState sets the session lifecycle state.
func (s *Store) SetRunState(sessionID string, rs chat.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).RunState = rs
}

// RunState returns the session lifecycle state.
func (s *Store) RunState(sessionID string) chat.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).RunState
}

// SetDenials replaces the stored permission denials. Pass nil to clear.
func (s *Store) SetDenials(sessionID string, denials []chat.PermissionDenial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).Denials = denials
}

// Denials returns a copy of the stored permission denials.
func (s *Store) Denials(sessionID string) []chat.PermissionDenial {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	if state.Denials == nil {
		return nil
	}
	out := make([]chat.PermissionDenial, len(state.Denials))
	copy(out, state.Denials)
	return out
}

// SetQuestion sets or clears the pending question. Setting a question also
// raises the waiting flag; clearing it lowers the flag.
func (s *Store) SetQuestion(sessionID string, q *chat.AskUserQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.get(sessionID)
	state.Question = q
	state.Waiting = q != nil
}

// Question returns the pending question, or nil.
func (s *Store) Question(sessionID string) *chat.AskUserQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).Question
}

// MarkTerminated records that the session's last stream ended with a
// terminal event.
func (s *Store) MarkTerminated(sessionID string, terminated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).Terminated = terminated
}

// Rekey moves a session's state to a new id in place. Used when the backend
// promotes a temporary session id to a persisted one mid-stream.
func (s *Store) Rekey(oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID == newID {
		return
	}
	state, ok := s.sessions[oldID]
	if !ok {
		return
	}
	delete(s.sessions, oldID)
	s.sessions[newID] = state
	if s.visible == oldID {
		s.visible = newID
	}
	s.logger.Debug("rekeyed session state",
		zap.String("old_session_id", oldID),
		zap.String("new_session_id", newID))
}

// Reset discards all cached state for a session.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Snapshot returns a UI projection of a session.
func (s *Store) Snapshot(sessionID string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(sessionID)
}

func (s *Store) viewLocked(sessionID string) View {
	state := s.get(sessionID)
	msgs := make([]chat.Message, len(state.Messages))
	copy(msgs, state.Messages)
	var denials []chat.PermissionDenial
	if state.Denials != nil {
		denials = make([]chat.PermissionDenial, len(state.Denials))
		copy(denials, state.Denials)
	}
	return View{
		SessionID:  sessionID,
		Messages:   msgs,
		Draft:      state.Draft,
		RunState:   state.RunState,
		Waiting:    state.Waiting,
		Activity:   state.Activity,
		Terminated: state.Terminated,
		Denials:    denials,
		Question:   state.Question,
	}
}

// SyncView resolves the projection shown when the UI (re)mounts a session.
// If cached state exists for the session it wins. If none exists but the
// previous projection is for the same session and already shows messages,
// the previous projection is preserved so an in-flight conversation does
// not flicker to empty on remount. Anything else resets to an empty view.
func (s *Store) SyncView(sessionID string, prev View) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		return s.viewLocked(sessionID)
	}
	if prev.SessionID == sessionID && len(prev.Messages) > 0 {
		return prev
	}
	return View{SessionID: sessionID, RunState: chat.RunStateIdle}
}
