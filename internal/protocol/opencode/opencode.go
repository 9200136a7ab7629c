// Package opencode normalizes the opencode native RPC message protocol:
// agent lifecycle events, message updates carrying nested part events, tool
// execution progress, turn-end snapshots, and permission requests.
package opencode

import (
	"fmt"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/protocol"
)

// Event type constants for the opencode protocol.
const (
	EventAgentStart         = "agent_start"
	EventAgentEnd           = "agent_end"
	EventMessageUpdate      = "message_update"
	EventToolExecutionStart = "tool_execution_start"
	EventToolExecutionUpdate = "tool_execution_update"
	EventToolExecutionEnd   = "tool_execution_end"
	EventTurnEnd            = "turn_end"
	EventAutoCompaction     = "auto_compaction"
	EventAutoRetry          = "auto_retry"
	EventPermissionRequest  = "permission_request"
	EventInput              = "input"
)

// Nested part event types inside a message update.
const (
	PartTextDelta     = "text-delta"
	PartThinkingStart = "thinking-start"
	PartThinkingDelta = "thinking-delta"
	PartThinkingEnd   = "thinking-end"
	PartToolCallEnd   = "tool-call-end"
)

// New returns the opencode event registry.
func New() protocol.Registry {
	return protocol.Registry{
		EventAgentStart:          handleAgentStart,
		EventAgentEnd:            handleAgentEnd,
		EventMessageUpdate:       handleMessageUpdate,
		EventToolExecutionStart:  handleToolExecutionStart,
		EventToolExecutionUpdate: handleToolExecutionStart,
		EventToolExecutionEnd:    handleToolExecutionEnd,
		EventTurnEnd:             handleTurnEnd,
		EventAutoCompaction:      handleAutoCompaction,
		EventAutoRetry:           handleAutoRetry,
		EventPermissionRequest:   handlePermissionRequest,
		EventInput:               handlePermissionRequest,
	}
}

func handleAgentStart(ev protocol.Event, ctx protocol.Context) {
	if sessionID := protocol.GetString(ev.Raw, "session_id"); sessionID != "" {
		ctx.SetSessionID(sessionID)
	}
	ctx.SetRunState(chat.RunStateRunning)
}

func handleAgentEnd(ev protocol.Event, ctx protocol.Context) {
	ctx.FlushDraft()
	ctx.ClearActivity()
	ctx.SetRunState(chat.RunStateIdle)
}

// handleMessageUpdate processes the nested part event carried by a message
// update. Thinking parts are wrapped in a displayable span rather than
// dropped.
func handleMessageUpdate(ev protocol.Event, ctx protocol.Context) {
	part := protocol.GetMap(ev.Raw, "event")
	if part == nil {
		part = protocol.GetMap(ev.Raw, "part")
	}
	if part == nil {
		return
	}

	switch protocol.GetString(part, "type") {
	case PartTextDelta:
		if text := partText(part); text != "" {
			ctx.AppendText(text)
		}
	case PartThinkingStart:
		ctx.AppendText("\n*Thinking…*\n")
	case PartThinkingDelta:
		if text := partText(part); text != "" {
			ctx.AppendText(text)
		}
	case PartThinkingEnd:
		ctx.AppendText("\n")
	case PartToolCallEnd:
		if name := protocol.GetString(part, "tool_name"); name != "" {
			ctx.AppendText(fmt.Sprintf("\n[%s]\n", name))
		}
	}
}

func handleToolExecutionStart(ev protocol.Event, ctx protocol.Context) {
	title := protocol.GetString(ev.Raw, "title")
	if title == "" {
		title = protocol.GetString(ev.Raw, "tool_name")
	}
	if title != "" {
		ctx.SetActivity(title)
	}
}

func handleToolExecutionEnd(ev protocol.Event, ctx protocol.Context) {
	ctx.ClearActivity()
}

// handleTurnEnd reconciles the turn's full-text snapshot against the text
// already streamed as deltas.
func handleTurnEnd(ev protocol.Event, ctx protocol.Context) {
	if text := protocol.GetString(ev.Raw, "text"); text != "" {
		ctx.ReconcileSnapshot(text)
	}
	ctx.FlushDraft()
	ctx.ClearActivity()
}

func handleAutoCompaction(ev protocol.Event, ctx protocol.Context) {
	ctx.SetActivity("Compacting context")
}

func handleAutoRetry(ev protocol.Event, ctx protocol.Context) {
	ctx.SetActivity("Retrying")
}

// handlePermissionRequest flips the waiting-for-input flag and surfaces the
// request as a system message.
func handlePermissionRequest(ev protocol.Event, ctx protocol.Context) {
	ctx.SetWaiting(true)
	message := protocol.GetString(ev.Raw, "message")
	if message == "" {
		message = protocol.GetString(ev.Raw, "prompt")
	}
	if message != "" {
		ctx.AddMessage(chat.RoleSystem, message)
	}
}

func partText(part map[string]any) string {
	if text := protocol.GetString(part, "text"); text != "" {
		return text
	}
	return protocol.GetString(part, "delta")
}
