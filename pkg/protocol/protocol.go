// Package protocol defines the shared domain and wire types of the
// orchestration core: conversation turns, tool call shapes, websocket
// frames, and the error taxonomy every component reports against.
//
// The package is a leaf. It depends on nothing inside the module so that
// every other package can share these types without import cycles.
package protocol

import (
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// AgentType names a specialist agent variant.
type AgentType string

const (
	AgentSales     AgentType = "sales"
	AgentTalent    AgentType = "talent"
	AgentAnalytics AgentType = "analytics"
)

// ParseAgentType maps a wire string to an AgentType.
func ParseAgentType(s string) (AgentType, bool) {
	switch AgentType(s) {
	case AgentSales, AgentTalent, AgentAnalytics:
		return AgentType(s), true
	}
	return "", false
}

// TurnStatus records how a turn ended.
type TurnStatus string

const (
	TurnComplete  TurnStatus = "complete"
	TurnCancelled TurnStatus = "cancelled"
	TurnFailed    TurnStatus = "failed"
)

// Usage is the token accounting for a single provider call or a whole turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// ToolCall is a structured tool invocation requested by a model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the observable outcome of one tool invocation. It is
// serialized verbatim into the next model message, so the field set is
// part of the LLM-facing surface.
type ToolResult struct {
	Name   string         `json:"name"`
	Status string         `json:"status"` // "ok" or "error"
	Found  bool           `json:"found"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// OK reports whether the tool ran without error.
func (r ToolResult) OK() bool { return r.Status == ToolStatusOK }

// Tool result statuses.
const (
	ToolStatusOK    = "ok"
	ToolStatusError = "error"
)

// Turn is one entry in a conversation transcript.
//
// Timestamps are strictly monotonic per conversation and tool turns always
// follow the assistant turn that requested them; the conversation store
// enforces both.
type Turn struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	Status    TurnStatus   `json:"status,omitempty"`
	Usage     *Usage       `json:"usage,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Results   []ToolResult `json:"tool_results,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model,omitempty"`
	AgentType AgentType    `json:"agent_type,omitempty"`
}

// Conversation is the durable envelope around an ordered turn list.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Affinity  AgentType `json:"agent_affinity,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Archived  bool      `json:"archived,omitempty"`
	TurnCount int       `json:"turn_count"`
}
