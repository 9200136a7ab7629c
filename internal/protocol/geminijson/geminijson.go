// Package geminijson normalizes the gemini-style CLI line protocol: an init
// event, message events that are either delta chunks or role-tagged full
// messages, standalone tool events, and tool results that double as the
// channel for permission and policy violations.
package geminijson

import (
	"fmt"
	"strings"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/protocol"
)

// Event type constants for the gemini CLI line protocol.
const (
	EventInit       = "init"
	EventMessage    = "message"
	EventTool       = "tool"
	EventToolResult = "tool_result"
)

// New returns the gemini CLI event registry.
func New() protocol.Registry {
	return protocol.Registry{
		EventInit:       handleInit,
		EventMessage:    handleMessage,
		EventTool:       handleTool,
		EventToolResult: handleToolResult,
	}
}

func handleInit(ev protocol.Event, ctx protocol.Context) {
	if sessionID := protocol.GetString(ev.Raw, "session_id"); sessionID != "" {
		ctx.SetSessionID(sessionID)
	}
	ctx.SetRunState(chat.RunStateRunning)
}

// handleMessage processes a message event. Delta chunks partially overlap
// the tail of the text already shown, so they go through overlap trimming.
// Role-tagged full messages carry content as a plain string or as an array
// of text parts.
func handleMessage(ev protocol.Event, ctx protocol.Context) {
	if delta := protocol.GetString(ev.Raw, "delta"); delta != "" {
		ctx.AppendOverlapText(delta)
		return
	}

	content := flattenContent(ev.Raw["content"])
	if content == "" {
		return
	}

	switch chat.Role(protocol.GetString(ev.Raw, "role")) {
	case chat.RoleAssistant, "":
		// Full assistant messages restate the accumulated turn text.
		ctx.ReconcileSnapshot(content)
	case chat.RoleUser:
		ctx.AddMessage(chat.RoleUser, content)
	default:
		ctx.AddMessage(chat.RoleSystem, content)
	}
}

// handleTool processes a standalone tool invocation event.
func handleTool(ev protocol.Event, ctx protocol.Context) {
	name := protocol.GetString(ev.Raw, "name")
	if name == "" {
		name = protocol.GetString(ev.Raw, "tool_name")
	}
	if name == "" {
		return
	}
	args := protocol.GetMap(ev.Raw, "args")
	title := name
	if cmd := protocol.GetString(args, "command"); cmd != "" {
		title = fmt.Sprintf("%s: %s", name, cmd)
	} else if path := protocol.GetString(args, "path"); path != "" {
		title = fmt.Sprintf("%s: %s", name, path)
	}
	ctx.SetActivity(title)
	ctx.AppendText(fmt.Sprintf("\n[%s]\n", title))
}

// handleToolResult inspects a tool result for permission or policy
// violations; error results are surfaced as system messages.
func handleToolResult(ev protocol.Event, ctx protocol.Context) {
	ctx.ClearActivity()

	output := protocol.GetString(ev.Raw, "output")
	status := protocol.GetString(ev.Raw, "status")

	if isPolicyViolation(status, output) {
		ctx.MergeDenials([]chat.PermissionDenial{{
			Tool:      protocol.GetString(ev.Raw, "name"),
			ToolInput: protocol.GetMap(ev.Raw, "args"),
		}})
		return
	}

	if protocol.GetBool(ev.Raw, "is_error") && output != "" {
		ctx.AddMessage(chat.RoleSystem, output)
	}
}

func isPolicyViolation(status, output string) bool {
	if status == "denied" {
		return true
	}
	lower := strings.ToLower(output)
	return strings.Contains(lower, "permission denied by policy") ||
		strings.Contains(lower, "requires user approval")
}

// flattenContent joins the text of a content value that may be a plain
// string or an array of {text} parts.
func flattenContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, raw := range v {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			sb.WriteString(protocol.GetString(part, "text"))
		}
		return sb.String()
	}
	return ""
}
