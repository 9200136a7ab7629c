// Package dispatch routes raw upstream events to the active provider's
// normalizer registry. Cross-cutting concerns, permission denials and
// embedded ask-a-question payloads, are extracted here before any provider
// handler runs so every provider gets them for free.
package dispatch

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vibecode/agentdeck/internal/chat"
	"github.com/vibecode/agentdeck/internal/common/logger"
	"github.com/vibecode/agentdeck/internal/protocol"
	"github.com/vibecode/agentdeck/internal/textutil"
)

// Dispatcher routes parsed events to a provider registry.
type Dispatcher struct {
	registry protocol.Registry
	logger   *logger.Logger
}

// NewDispatcher creates a dispatcher bound to one provider registry.
func NewDispatcher(registry protocol.Registry, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   log.WithFields(zap.String("component", "dispatcher")),
	}
}

// Dispatch processes one raw frame payload. Malformed payloads are dropped,
// never surfaced as errors; a plain string payload is appended verbatim as
// assistant text.
func (d *Dispatcher) Dispatch(raw json.RawMessage, ctx protocol.Context) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.logger.WithError(err).Debug("dropping undecodable event payload")
		return
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		if text, ok := payload.(string); ok && text != "" {
			ctx.AppendText(text)
		}
		return
	}

	if denials := protocol.GetSlice(obj, "permission_denials"); len(denials) > 0 {
		d.handleDenials(denials, ctx)
		return
	}

	if q := extractQuestion(obj); q != nil {
		ctx.SetPendingQuestion(q)
		return
	}

	eventType := protocol.GetString(obj, "type")
	if handler, ok := d.registry.Lookup(eventType); ok {
		handler(protocol.Event{Type: eventType, Raw: obj}, ctx)
		return
	}
	d.logger.Debug("ignoring event with no registered handler",
		zap.String("event_type", eventType))
}

// handleDenials deduplicates incoming denials against the stored set, pulls
// any embedded ask-a-question entry out into the pending question slot, and
// stores whatever remains. An ask entry never reaches the stored denial list.
func (d *Dispatcher) handleDenials(raw []any, ctx protocol.Context) {
	incoming := make([]chat.PermissionDenial, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		incoming = append(incoming, denialFromMap(m))
	}

	merged := textutil.DedupeDenials(append(ctx.Denials(), incoming...))

	kept := merged[:0]
	for _, denial := range merged {
		if denial.Tool == chat.AskQuestionToolName {
			if q := questionFromInput(denial.ToolInput); q != nil {
				ctx.SetPendingQuestion(q)
				continue
			}
		}
		kept = append(kept, denial)
	}

	if len(kept) == 0 {
		ctx.SetDenials(nil)
		return
	}
	ctx.SetDenials(kept)
}

func denialFromMap(m map[string]any) chat.PermissionDenial {
	tool := protocol.GetString(m, "tool_name")
	if tool == "" {
		tool = protocol.GetString(m, "tool")
	}
	return chat.PermissionDenial{
		Tool:      tool,
		ToolInput: protocol.GetMap(m, "tool_input"),
	}
}

// extractQuestion recognizes a top-level ask-a-question payload, a tool name
// plus a non-empty tool_input.questions array, outside any denial list.
func extractQuestion(obj map[string]any) *chat.AskUserQuestion {
	tool := protocol.GetString(obj, "tool_name")
	if tool == "" {
		tool = protocol.GetString(obj, "tool")
	}
	if tool != chat.AskQuestionToolName {
		return nil
	}
	q := questionFromInput(protocol.GetMap(obj, "tool_input"))
	if q == nil {
		return nil
	}
	q.ToolUseID = firstNonEmpty(protocol.GetString(obj, "tool_use_id"), q.ToolUseID)
	q.UUID = firstNonEmpty(protocol.GetString(obj, "uuid"), q.UUID)
	return q
}

// questionFromInput builds the pending question from an AskUserQuestion tool
// input. A nil result means the input carried no usable questions.
func questionFromInput(input map[string]any) *chat.AskUserQuestion {
	rawQuestions := protocol.GetSlice(input, "questions")
	if len(rawQuestions) == 0 {
		return nil
	}

	questions := make([]chat.Question, 0, len(rawQuestions))
	for _, entry := range rawQuestions {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		question := chat.Question{
			Header:      protocol.GetString(m, "header"),
			Question:    protocol.GetString(m, "question"),
			MultiSelect: protocol.GetBool(m, "multiSelect"),
		}
		for _, rawOpt := range protocol.GetSlice(m, "options") {
			opt, ok := rawOpt.(map[string]any)
			if !ok {
				continue
			}
			question.Options = append(question.Options, chat.QuestionOption{
				Label:       protocol.GetString(opt, "label"),
				Description: protocol.GetString(opt, "description"),
			})
		}
		questions = append(questions, question)
	}
	if len(questions) == 0 {
		return nil
	}

	return &chat.AskUserQuestion{
		ToolUseID: protocol.GetString(input, "tool_use_id"),
		UUID:      protocol.GetString(input, "uuid"),
		Questions: questions,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
