// Package backend provides the HTTP client for outbound collaborator calls
// to the agent backend: prompt submission, question answers, termination,
// and the session-status feed. These calls are fire-and-forget; outcomes
// arrive asynchronously on the event stream, never in the call's response.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vibecode/agentdeck/internal/chat"
	apperrors "github.com/vibecode/agentdeck/internal/common/errors"
	"github.com/vibecode/agentdeck/internal/common/logger"
)

// PromptRequest is the payload of a prompt submission.
type PromptRequest struct {
	Prompt         string               `json:"prompt"`
	PermissionMode string               `json:"permission_mode,omitempty"`
	AllowedTools   []string             `json:"allowed_tools,omitempty"`
	UseContinue    bool                 `json:"use_continue,omitempty"`
	CodeRefs       []chat.CodeReference `json:"code_refs,omitempty"`
}

// AnswerRequest is the payload answering or dismissing a pending question.
type AnswerRequest struct {
	ToolUseID string              `json:"tool_use_id"`
	UUID      string              `json:"uuid,omitempty"`
	Answers   map[string][]string `json:"answers,omitempty"`
	Cancelled bool                `json:"cancelled,omitempty"`
}

// Collaborator is the outbound call surface the action layer depends on.
type Collaborator interface {
	SubmitPrompt(ctx context.Context, sessionID string, req PromptRequest) error
	SubmitAnswer(ctx context.Context, sessionID string, req AnswerRequest) error
	Terminate(ctx context.Context, sessionID string) error
	ListSessionStatuses(ctx context.Context) ([]chat.SessionStatus, error)
}

// Client talks to the agent backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a backend client.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.WithFields(zap.String("component", "backend-client")),
	}
}

// SubmitPrompt sends a prompt for a session.
func (c *Client) SubmitPrompt(ctx context.Context, sessionID string, req PromptRequest) error {
	return c.post(ctx, c.sessionPath(sessionID, "prompt"), req)
}

// SubmitAnswer forwards an answer to, or dismissal of, a pending question.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, req AnswerRequest) error {
	return c.post(ctx, c.sessionPath(sessionID, "answer"), req)
}

// Terminate asks the backend to stop the session's agent.
func (c *Client) Terminate(ctx context.Context, sessionID string) error {
	return c.post(ctx, c.sessionPath(sessionID, "terminate"), nil)
}

// ListSessionStatuses fetches the externally owned session-status feed.
func (c *Client) ListSessionStatuses(ctx context.Context) ([]chat.SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/sessions/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.TransportFailure("failed to fetch session statuses", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Upstream(
			fmt.Sprintf("session status feed returned %d", resp.StatusCode), nil)
	}

	var statuses []chat.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, fmt.Errorf("failed to decode session statuses: %w", err)
	}
	return statuses, nil
}

func (c *Client) sessionPath(sessionID, action string) string {
	return fmt.Sprintf("%s/api/sessions/%s/%s", c.baseURL, url.PathEscape(sessionID), action)
}

func (c *Client) post(ctx context.Context, callURL string, payload any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", callURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.TransportFailure("backend call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Warn("backend call rejected",
			zap.String("url", callURL),
			zap.Int("status", resp.StatusCode))
		return apperrors.Upstream(fmt.Sprintf("backend returned %d", resp.StatusCode), nil)
	}
	return nil
}
