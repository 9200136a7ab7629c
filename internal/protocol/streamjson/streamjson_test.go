package streamjson

import (
	"testing"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/protocol"
	"github.com/vibecode/agentdeck/internal/protocol/protocoltest"
)

func dispatch(t *testing.T, ctx protocol.Context, raw map[string]any) {
	t.Helper()
	registry := New()
	eventType, _ := raw["type"].(string)
	handler, ok := registry.Lookup(eventType)
	if !ok {
		t.Fatalf("no handler for event type %q", eventType)
	}
	handler(protocol.Event{Type: eventType, Raw: raw}, ctx)
}

func TestSystemEvent(t *testing.T) {
	ctx := protocoltest.New("")
	dispatch(t, ctx, map[string]any{
		"type":       "system",
		"session_id": "sess-42",
	})

	if ctx.Session != "sess-42" {
		t.Fatalf("session id %q, want sess-42", ctx.Session)
	}
	if ctx.RunState != chat.RunStateRunning {
		t.Fatalf("run state %q, want running", ctx.RunState)
	}
}

func TestAssistantEvent(t *testing.T) {
	t.Run("text blocks append to the draft", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		dispatch(t, ctx, map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "Hello"},
					map[string]any{"type": "text", "text": " world"},
				},
			},
		})

		if ctx.DraftText != "Hello world" {
			t.Fatalf("draft %q, want %q", ctx.DraftText, "Hello world")
		}
	})

	t.Run("tool invocations render before text", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		dispatch(t, ctx, map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "Running it now"},
					map[string]any{
						"type": "tool_use",
						"name": "Bash",
						"input": map[string]any{"command": "ls -la"},
					},
				},
			},
		})

		want := "\n[Bash: ls -la]\nRunning it now"
		if ctx.DraftText != want {
			t.Fatalf("draft %q, want %q", ctx.DraftText, want)
		}
		if ctx.Activity != "Bash: ls -la" {
			t.Fatalf("activity %q, want %q", ctx.Activity, "Bash: ls -la")
		}
	})

	t.Run("tool title falls back to file path", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		dispatch(t, ctx, map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"content": []any{
					map[string]any{
						"type": "tool_use",
						"name": "Edit",
						"input": map[string]any{"file_path": "/tmp/main.go"},
					},
				},
			},
		})

		if ctx.Activity != "Edit: /tmp/main.go" {
			t.Fatalf("activity %q, want %q", ctx.Activity, "Edit: /tmp/main.go")
		}
	})

	t.Run("thinking blocks render a wrapped span", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		dispatch(t, ctx, map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"content": []any{
					map[string]any{"type": "thinking", "thinking": "weighing options"},
					map[string]any{"type": "text", "text": "Decided."},
				},
			},
		})

		want := "\n*Thinking…*\nweighing options\nDecided."
		if ctx.DraftText != want {
			t.Fatalf("draft %q, want %q", ctx.DraftText, want)
		}
	})

	t.Run("missing content is ignored", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		dispatch(t, ctx, map[string]any{"type": "assistant"})
		if ctx.DraftText != "" {
			t.Fatalf("draft %q, want empty", ctx.DraftText)
		}
	})
}

func TestContentBlockDelta(t *testing.T) {
	ctx := protocoltest.New("s1")
	dispatch(t, ctx, map[string]any{
		"type":  "content_block_delta",
		"delta": map[string]any{"text": "chunk"},
	})

	if ctx.DraftText != "chunk" {
		t.Fatalf("draft %q, want %q", ctx.DraftText, "chunk")
	}
}

func TestResultEvent(t *testing.T) {
	t.Run("snapshot appends only the unseen suffix", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		ctx.AppendText("Hello")

		dispatch(t, ctx, map[string]any{
			"type":   "result",
			"result": "Hello world",
		})

		if len(ctx.Messages) != 1 {
			t.Fatalf("got %d messages, want 1", len(ctx.Messages))
		}
		if ctx.Messages[0].Content != "Hello world" {
			t.Fatalf("flushed %q, want %q", ctx.Messages[0].Content, "Hello world")
		}
		if ctx.RunState != chat.RunStateIdle {
			t.Fatalf("run state %q, want idle", ctx.RunState)
		}
		if !ctx.Cleared {
			t.Fatal("activity not cleared")
		}
	})

	t.Run("result matching the draft adds nothing new", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		ctx.AppendText("Full text")

		dispatch(t, ctx, map[string]any{
			"type":   "result",
			"result": "Full text",
		})

		if len(ctx.Messages) != 1 || ctx.Messages[0].Content != "Full text" {
			t.Fatalf("messages %+v, want one with %q", ctx.Messages, "Full text")
		}
	})

	t.Run("empty draft with no result flushes nothing", func(t *testing.T) {
		ctx := protocoltest.New("s1")
		dispatch(t, ctx, map[string]any{"type": "result"})
		if len(ctx.Messages) != 0 {
			t.Fatalf("got %d messages, want 0", len(ctx.Messages))
		}
	})
}
