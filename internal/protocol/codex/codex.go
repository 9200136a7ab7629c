// Package codex normalizes the codex RPC item-based protocol: a
// thread-started event carrying the session id, turn lifecycle events, and
// item events whose item type determines behavior.
package codex

import (
	"fmt"
	"strings"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/protocol"
)

// Event type constants for the codex protocol.
const (
	EventThreadStarted = "thread.started"
	EventTurnStarted   = "turn.started"
	EventTurnCompleted = "turn.completed"
	EventTurnFailed    = "turn.failed"
	EventItemStarted   = "item.started"
	EventItemUpdated   = "item.updated"
	EventItemCompleted = "item.completed"
	EventError         = "error"
)

// Item type constants.
const (
	ItemCommandExecution = "command_execution"
	ItemAgentMessage     = "agent_message"
	ItemFileChange       = "file_change"
	ItemMcpToolCall      = "mcp_tool_call"
	ItemReasoning        = "reasoning"
)

// notResumableSignature marks the error the backend emits when a saved
// thread cannot be loaded anymore. It is handled as a local state reset,
// not surfaced as a raw error.
const notResumableSignature = "conversation not found"

// New returns the codex event registry.
func New() protocol.Registry {
	return protocol.Registry{
		EventThreadStarted: handleThreadStarted,
		EventTurnStarted:   handleTurnStarted,
		EventTurnCompleted: handleTurnCompleted,
		EventTurnFailed:    handleTurnFailed,
		EventItemStarted:   handleItem,
		EventItemUpdated:   handleItem,
		EventItemCompleted: handleItem,
		EventError:         handleError,
	}
}

func handleThreadStarted(ev protocol.Event, ctx protocol.Context) {
	if threadID := protocol.GetString(ev.Raw, "thread_id"); threadID != "" {
		ctx.SetSessionID(threadID)
	}
	ctx.SetRunState(chat.RunStateRunning)
}

func handleTurnStarted(ev protocol.Event, ctx protocol.Context) {
	ctx.SetRunState(chat.RunStateRunning)
}

func handleTurnCompleted(ev protocol.Event, ctx protocol.Context) {
	ctx.FlushDraft()
	ctx.ClearActivity()
}

func handleTurnFailed(ev protocol.Event, ctx protocol.Context) {
	ctx.ClearActivity()
	errObj := protocol.GetMap(ev.Raw, "error")
	if message := protocol.GetString(errObj, "message"); message != "" {
		ctx.AddMessage(chat.RoleSystem, message)
	}
}

// handleItem dispatches on the item kind. Command executions and tool calls
// produce activity lines, agent messages carry full-text snapshots, and
// file changes render one display line per changed path.
func handleItem(ev protocol.Event, ctx protocol.Context) {
	item := protocol.GetMap(ev.Raw, "item")
	if item == nil {
		return
	}

	switch protocol.GetString(item, "type") {
	case ItemCommandExecution:
		command := protocol.GetString(item, "command")
		ctx.SetActivity(fmt.Sprintf("Running: %s", command))
		if ev.Type == EventItemStarted && command != "" {
			ctx.AppendText(fmt.Sprintf("\n[run] %s\n", command))
		}
	case ItemAgentMessage:
		// The item restates the full message text on every update.
		ctx.ReconcileSnapshot(protocol.GetString(item, "text"))
	case ItemFileChange:
		if ev.Type != EventItemCompleted {
			return
		}
		for _, raw := range protocol.GetSlice(item, "changes") {
			change, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if path := protocol.GetString(change, "path"); path != "" {
				ctx.AppendText(fmt.Sprintf("\n[edit] %s\n", path))
			}
		}
	case ItemMcpToolCall:
		server := protocol.GetString(item, "server")
		tool := protocol.GetString(item, "tool")
		if server != "" {
			tool = server + "/" + tool
		}
		ctx.SetActivity(tool)
		if ev.Type == EventItemStarted && tool != "" {
			ctx.AppendText(fmt.Sprintf("\n[%s]\n", tool))
		}
	case ItemReasoning:
		ctx.SetActivity("Thinking")
	}
}

// handleError processes a top-level error event. The not-resumable
// signature clears the stored session id and surfaces a user-facing
// message; anything else is surfaced verbatim.
func handleError(ev protocol.Event, ctx protocol.Context) {
	message := protocol.GetString(ev.Raw, "message")
	if message == "" {
		message = protocol.GetString(protocol.GetMap(ev.Raw, "error"), "message")
	}
	if message == "" {
		return
	}

	if strings.Contains(strings.ToLower(message), notResumableSignature) {
		ctx.ClearStoredSession()
		ctx.AddMessage(chat.RoleSystem,
			"This session can no longer be resumed. Start a new session to continue.")
		return
	}
	ctx.AddMessage(chat.RoleSystem, message)
}
