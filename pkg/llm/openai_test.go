package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

func TestConvertOpenAIMessageRoles(t *testing.T) {
	system, err := convertOpenAIMessage(Message{Role: protocol.RoleSystem, Content: "be brief"})
	require.NoError(t, err)
	assert.NotNil(t, system.OfSystem)

	user, err := convertOpenAIMessage(Message{Role: protocol.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.NotNil(t, user.OfUser)

	tool, err := convertOpenAIMessage(Message{Role: protocol.RoleTool, Content: `{"found":true}`, ToolCallID: "call_1"})
	require.NoError(t, err)
	require.NotNil(t, tool.OfTool)
	assert.Equal(t, "call_1", tool.OfTool.ToolCallID)

	_, err = convertOpenAIMessage(Message{Role: "narrator", Content: "x"})
	assert.Error(t, err)
}

func TestConvertOpenAIMessageAssistantToolCalls(t *testing.T) {
	msg, err := convertOpenAIMessage(Message{
		Role:    protocol.RoleAssistant,
		Content: "Looking that up.",
		ToolCalls: []protocol.ToolCall{
			{ID: "call_1", Name: "search_people", Arguments: map[string]any{"query": "cinematographers"}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, msg.OfAssistant)
	require.Len(t, msg.OfAssistant.ToolCalls, 1)

	tc := msg.OfAssistant.ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "search_people", tc.Function.Name)
	assert.JSONEq(t, `{"query":"cinematographers"}`, tc.Function.Arguments)
}

func TestOpenAIBuildParams(t *testing.T) {
	p := &OpenAIProvider{name: "groq"}
	params, err := p.buildParams(Request{
		System:      "You route business intelligence queries.",
		Model:       "llama-3.3-70b-versatile",
		MaxTokens:   512,
		Temperature: 0.2,
		Messages: []Message{
			{Role: protocol.RoleUser, Content: "who directed the pilot?"},
		},
		Tools: []ToolDefinition{{
			Name:        "search_people",
			Description: "Vector search over people.",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, "llama-3.3-70b-versatile", params.Model)
	assert.Len(t, params.Messages, 2)
	assert.EqualValues(t, 512, params.MaxCompletionTokens.Value)
	assert.InDelta(t, 0.2, params.Temperature.Value, 1e-9)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "search_people", params.Tools[0].Function.Name)
}

func TestOpenAIBuildParamsRequiresMessages(t *testing.T) {
	p := &OpenAIProvider{name: "groq"}
	_, err := p.buildParams(Request{Model: "m"})
	assert.Error(t, err)
}
