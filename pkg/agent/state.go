package agent

import (
	"encoding/json"
	"strings"

	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/memory"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// Node names recorded in checkpoints, one per state machine node.
const (
	NodeInitialize = "initialize"
	NodeLoadMemory = "load_memory"
	NodeClassify   = "classify"
	NodeCallLLM    = "call_llm"
	NodeRouteTools = "route_tools"
	NodeRespond    = "respond"
	NodePersist    = "persist"
)

// Mode is the classify node's decision for a turn.
type Mode string

const (
	ModeDirect        Mode = "direct"
	ModeToolAugmented Mode = "tool_augmented"
	ModeClarify       Mode = "clarify"
)

// State is the serialized execution state of one turn and the payload
// of every checkpoint the turn writes. Provider output is accumulated
// here as it arrives, so resuming from a checkpoint reproduces the
// turn without replaying model calls.
type State struct {
	ConversationID string                `json:"conversation_id"`
	Principal      rbac.Principal        `json:"principal"`
	AgentType      protocol.AgentType    `json:"agent_type"`
	UserMessage    string                `json:"user_message"`
	System         string                `json:"system,omitempty"`
	Messages       []llm.Message         `json:"messages,omitempty"`
	Mode           Mode                  `json:"mode,omitempty"`
	Steps          int                   `json:"steps"`
	Calls          []protocol.ToolCall   `json:"tool_calls,omitempty"`
	Results        []protocol.ToolResult `json:"tool_results,omitempty"`
	Content        string                `json:"content,omitempty"`
	Usage          protocol.Usage        `json:"usage"`
	Provider       string                `json:"provider,omitempty"`
	Model          string                `json:"model,omitempty"`
}

// classifyMode decides how a turn is answered. Messages too short to
// carry intent ask for clarification, a principal with no permitted
// tools gets a direct answer, everything else enters the tool loop.
func classifyMode(message string, toolCount int) Mode {
	if len(strings.Fields(message)) < 2 {
		return ModeClarify
	}
	if toolCount == 0 {
		return ModeDirect
	}
	return ModeToolAugmented
}

// historyMessages renders recent turns as model messages. Tool turns,
// failed turns, and empty turns are skipped; past tool exchanges are
// not replayed. The current user message is appended when the
// transcript does not already end with it.
func historyMessages(turns []protocol.Turn, userMessage string) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		if turn.Status == protocol.TurnFailed || turn.Content == "" {
			continue
		}
		switch turn.Role {
		case protocol.RoleUser, protocol.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Content})
		}
	}
	if last := len(msgs) - 1; last < 0 || msgs[last].Role != protocol.RoleUser || msgs[last].Content != userMessage {
		msgs = append(msgs, llm.Message{Role: protocol.RoleUser, Content: userMessage})
	}
	return msgs
}

// toolMessages renders one round of tool results as transcript
// messages, one per result in call order.
func toolMessages(calls []protocol.ToolCall, results []protocol.ToolResult) []llm.Message {
	msgs := make([]llm.Message, 0, len(results))
	for i, res := range results {
		msgs = append(msgs, llm.Message{
			Role:       protocol.RoleTool,
			Content:    resultPayload(res),
			ToolCallID: calls[i].ID,
			ToolName:   res.Name,
			IsError:    !res.OK(),
		})
	}
	return msgs
}

// resultPayload is the string form of a tool result embedded into the
// next model message. Successes carry the full result shape; failures
// collapse to a compact summary so the model sees what failed without
// internal detail.
func resultPayload(res protocol.ToolResult) string {
	if res.OK() {
		payload, err := json.Marshal(res)
		if err == nil {
			return string(payload)
		}
		res.Error = "unserializable result"
	}
	payload, _ := json.Marshal(map[string]string{
		"tool":    res.Name,
		"status":  protocol.ToolStatusError,
		"summary": res.Error,
	})
	return string(payload)
}

// renderMemories formats recalled items as the synthesized memory
// block attached to the system prompt.
func renderMemories(items []memory.Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memory about this user:")
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item.Summary)
	}
	return b.String()
}

// renderWindow builds the extraction window for a finished turn. Tool
// output is deliberately excluded; extraction works from what was said.
func renderWindow(userMessage, assistantContent string) string {
	return "User: " + userMessage + "\n\nAssistant: " + assistantContent
}

func callNames(calls []protocol.ToolCall) string {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	return strings.Join(names, ", ")
}

func usagePtr(u protocol.Usage) *protocol.Usage {
	if u == (protocol.Usage{}) {
		return nil
	}
	v := u
	return &v
}
