// Package streamjson normalizes the stream-json CLI line protocol: session
// metadata in a system event, assistant events carrying typed content
// blocks, incremental content deltas, and an end-of-turn result summary.
package streamjson

import (
	"fmt"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/protocol"
)

// Event type constants for the stream-json protocol.
const (
	EventSystem            = "system"
	EventAssistant         = "assistant"
	EventContentBlockDelta = "content_block_delta"
	EventResult            = "result"
)

// New returns the stream-json event registry.
func New() protocol.Registry {
	return protocol.Registry{
		EventSystem:            handleSystem,
		EventAssistant:         handleAssistant,
		EventContentBlockDelta: handleContentBlockDelta,
		EventResult:            handleResult,
	}
}

// handleSystem processes the session-start metadata event.
func handleSystem(ev protocol.Event, ctx protocol.Context) {
	if sessionID := protocol.GetString(ev.Raw, "session_id"); sessionID != "" {
		ctx.SetSessionID(sessionID)
	}
	ctx.SetRunState(chat.RunStateRunning)
}

// handleAssistant processes an assistant event carrying an array of typed
// content blocks. Tool invocations render one display line each before any
// text in the event is appended; thinking blocks are wrapped in a
// displayable span.
func handleAssistant(ev protocol.Event, ctx protocol.Context) {
	message := protocol.GetMap(ev.Raw, "message")
	blocks := protocol.GetSlice(message, "content")
	if blocks == nil {
		return
	}

	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok || protocol.GetString(block, "type") != "tool_use" {
			continue
		}
		name := protocol.GetString(block, "name")
		if name == "" {
			continue
		}
		input := protocol.GetMap(block, "input")
		ctx.SetActivity(toolTitle(name, input))
		ctx.AppendText(toolLine(name, input))
	}

	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch protocol.GetString(block, "type") {
		case "text":
			if text := protocol.GetString(block, "text"); text != "" {
				ctx.AppendText(text)
			}
		case "thinking":
			if text := protocol.GetString(block, "thinking"); text != "" {
				ctx.AppendText(fmt.Sprintf("\n*Thinking…*\n%s\n", text))
			}
		}
	}
}

// handleContentBlockDelta processes an incremental text delta.
func handleContentBlockDelta(ev protocol.Event, ctx protocol.Context) {
	delta := protocol.GetMap(ev.Raw, "delta")
	if text := protocol.GetString(delta, "text"); text != "" {
		ctx.AppendText(text)
	}
}

// handleResult processes the end-of-turn summary. The result text is a full
// snapshot of the turn's assistant output, so only text not already shown
// is appended.
func handleResult(ev protocol.Event, ctx protocol.Context) {
	if result := protocol.GetString(ev.Raw, "result"); result != "" {
		ctx.ReconcileSnapshot(result)
	}
	ctx.FlushDraft()
	ctx.ClearActivity()
	ctx.SetRunState(chat.RunStateIdle)
}

// toolTitle builds a human-readable activity title for a tool invocation.
func toolTitle(name string, input map[string]any) string {
	if cmd := protocol.GetString(input, "command"); cmd != "" {
		return fmt.Sprintf("%s: %s", name, cmd)
	}
	if path := protocol.GetString(input, "file_path"); path != "" {
		return fmt.Sprintf("%s: %s", name, path)
	}
	if pattern := protocol.GetString(input, "pattern"); pattern != "" {
		return fmt.Sprintf("%s: %s", name, pattern)
	}
	return name
}

// toolLine renders the display line appended to the transcript for a tool
// invocation.
func toolLine(name string, input map[string]any) string {
	return fmt.Sprintf("\n[%s]\n", toolTitle(name, input))
}
