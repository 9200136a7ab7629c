// Package chat defines the conversation data model shared by the protocol
// normalizers, the event dispatcher, and the session cache.
package chat

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// RunState is the per-session lifecycle state.
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
)

// CodeReference points at a span of a workspace file attached to a message.
type CodeReference struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Message is one entry in a session transcript. Messages are immutable once
// appended; the in-progress assistant message lives in the session draft and
// only becomes a Message when the turn ends.
type Message struct {
	ID             string          `json:"id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	CodeReferences []CodeReference `json:"codeReferences,omitempty"`
}

// PermissionDenial records a tool invocation the backend refused.
type PermissionDenial struct {
	Tool      string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// Path returns the file path the denial refers to, if any. Denials are
// deduplicated by (tool, path).
func (d PermissionDenial) Path() string {
	if d.ToolInput == nil {
		return ""
	}
	if p, ok := d.ToolInput["path"].(string); ok {
		return p
	}
	if p, ok := d.ToolInput["file_path"].(string); ok {
		return p
	}
	return ""
}

// DedupeKey returns the (tool, path) key used for denial deduplication.
func (d PermissionDenial) DedupeKey() string {
	return d.Tool + "\x00" + d.Path()
}

// AskQuestionToolName is the distinguished tool whose denial payload carries
// a question for the user instead of a real permission failure.
const AskQuestionToolName = "AskUserQuestion"

// QuestionOption is one selectable answer to a question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is a single question posed to the user by the agent.
type Question struct {
	Header      string           `json:"header"`
	Question    string           `json:"question,omitempty"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect,omitempty"`
}

// AskUserQuestion is a pending question extracted from an AskUserQuestion
// tool payload. At most one may be pending per session.
type AskUserQuestion struct {
	ToolUseID string     `json:"tool_use_id"`
	UUID      string     `json:"uuid,omitempty"`
	Questions []Question `json:"questions"`
}

// RunOptions are the options the backend reported for the last run of a
// session. They are replayed verbatim on retry.
type RunOptions struct {
	PermissionMode string   `json:"permissionMode"`
	AllowedTools   []string `json:"allowedTools,omitempty"`
	UseContinue    bool     `json:"useContinue,omitempty"`
}

// SessionStatus is one row of the externally owned session-status feed.
type SessionStatus struct {
	ID     string   `json:"id"`
	Status RunState `json:"status"`
}
