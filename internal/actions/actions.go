// Package actions provides the thin command layer the UI invokes: prompt
// submission, question answers, retry after a permission denial, and session
// teardown. Each action mutates the session cache and delegates network work
// to the stream manager and the backend collaborator.
package actions

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibecode/agentdeck/internal/backend"
	"github.com/vibecode/agentdeck/internal/chat"
	apperrors "github.com/vibecode/agentdeck/internal/common/errors"
	"github.com/vibecode/agentdeck/internal/common/logger"
	"github.com/vibecode/agentdeck/internal/session"
	"github.com/vibecode/agentdeck/internal/stream"
)

// Actions is the command surface for one agentdeck process.
type Actions struct {
	store   *session.Store
	manager *stream.Manager
	backend backend.Collaborator
	logger  *logger.Logger
}

// New creates the action layer.
func New(store *session.Store, manager *stream.Manager, collaborator backend.Collaborator, log *logger.Logger) *Actions {
	if log == nil {
		log = logger.Default()
	}
	return &Actions{
		store:   store,
		manager: manager,
		backend: collaborator,
		logger:  log.WithFields(zap.String("component", "actions")),
	}
}

// SubmitPrompt appends the user message locally, makes sure a stream is open
// for the session, and sends the prompt to the backend. The submit call is
// fire-and-forget; the agent's response arrives on the event stream.
func (a *Actions) SubmitPrompt(ctx context.Context, sessionID, prompt string, codeRefs []chat.CodeReference) error {
	if prompt == "" {
		return apperrors.InvalidState("cannot submit an empty prompt")
	}

	a.store.AppendMessage(sessionID, chat.Message{
		Role:           chat.RoleUser,
		Content:        prompt,
		CodeReferences: codeRefs,
	})
	a.store.MarkTerminated(sessionID, false)

	if err := a.manager.EnsureOpen(ctx, sessionID); err != nil {
		return err
	}

	opts, _ := a.manager.LastRunOptions(sessionID)
	return a.backend.SubmitPrompt(ctx, sessionID, backend.PromptRequest{
		Prompt:         prompt,
		PermissionMode: opts.PermissionMode,
		AllowedTools:   opts.AllowedTools,
		UseContinue:    opts.UseContinue,
		CodeRefs:       codeRefs,
	})
}

// AnswerQuestion clears the pending question and forwards the selected
// answers to the backend.
func (a *Actions) AnswerQuestion(ctx context.Context, sessionID string, answers map[string][]string) error {
	q := a.store.Question(sessionID)
	if q == nil {
		return apperrors.InvalidState("no pending question to answer")
	}

	a.store.SetQuestion(sessionID, nil)
	return a.backend.SubmitAnswer(ctx, sessionID, backend.AnswerRequest{
		ToolUseID: q.ToolUseID,
		UUID:      q.UUID,
		Answers:   answers,
	})
}

// DismissQuestion clears the pending question and tells the backend the user
// declined to answer. Dismissing when nothing is pending is a no-op.
func (a *Actions) DismissQuestion(ctx context.Context, sessionID string) error {
	q := a.store.Question(sessionID)
	if q == nil {
		return nil
	}

	a.store.SetQuestion(sessionID, nil)
	return a.backend.SubmitAnswer(ctx, sessionID, backend.AnswerRequest{
		ToolUseID: q.ToolUseID,
		UUID:      q.UUID,
		Cancelled: true,
	})
}

// RetryAfterPermission re-issues the last user message with the run options
// of the previous run. The message is not appended again; it is already in
// the transcript.
func (a *Actions) RetryAfterPermission(ctx context.Context, sessionID string) error {
	last, ok := a.store.LastUserMessage(sessionID)
	if !ok {
		return apperrors.InvalidState("no user message to retry")
	}

	a.store.SetDenials(sessionID, nil)
	a.store.MarkTerminated(sessionID, false)

	if err := a.manager.EnsureOpen(ctx, sessionID); err != nil {
		return err
	}

	opts, _ := a.manager.LastRunOptions(sessionID)
	return a.backend.SubmitPrompt(ctx, sessionID, backend.PromptRequest{
		Prompt:         last.Content,
		PermissionMode: opts.PermissionMode,
		AllowedTools:   opts.AllowedTools,
		UseContinue:    opts.UseContinue,
		CodeRefs:       last.CodeReferences,
	})
}

// Terminate stops the session's agent and force-closes the stream.
func (a *Actions) Terminate(ctx context.Context, sessionID string) error {
	a.manager.Close()
	a.store.SetRunState(sessionID, chat.RunStateIdle)
	a.store.SetWaiting(sessionID, false)
	a.store.MarkTerminated(sessionID, true)
	return a.backend.Terminate(ctx, sessionID)
}

// ResetSession force-closes the stream and discards the session's cached
// state.
func (a *Actions) ResetSession(sessionID string) {
	a.manager.Close()
	a.store.Reset(sessionID)
	a.logger.Info("session reset", zap.String("session_id", sessionID))
}

// StartNewSession closes any live stream and switches the UI to a fresh
// local session id. The backend promotes the id via a session-started event
// once the first prompt runs.
func (a *Actions) StartNewSession() string {
	a.manager.Close()
	sessionID := uuid.New().String()
	a.manager.SetVisible(sessionID)
	a.logger.Info("started new session", zap.String("session_id", sessionID))
	return sessionID
}
