package llm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

type stubMessages struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	events     []ssestream.Event
	streamErr  error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessages) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&eventDecoder{events: s.events}, s.streamErr)
}

// eventDecoder feeds a fixed event sequence to the SDK stream.
type eventDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *eventDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *eventDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *eventDecoder) Close() error { return nil }
func (d *eventDecoder) Err() error   { return nil }

func testAnthropic(stub MessagesClient) *AnthropicProvider {
	cfg := config.ProviderConfig{Type: config.ProviderTypeAnthropic, MaxTokens: 256}
	cfg.Models.Simple = "claude-3-5-haiku-latest"
	return newAnthropicWithClient(stub, cfg)
}

func TestAnthropicCompleteEncodesAndTranslates(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Checking the pipeline."},
			{Type: "tool_use", ID: "t1", Name: "get_project_status", Input: json.RawMessage(`{"project_name":"Dune"}`)},
		},
		StopReason: "tool_use",
		Usage:      sdk.Usage{InputTokens: 40, OutputTokens: 9},
	}}
	p := testAnthropic(stub)

	req := Request{
		System: "You are the sales agent.",
		Model:  "claude-sonnet-4-5",
		Messages: []Message{
			{Role: protocol.RoleUser, Content: "status of dune?"},
			{Role: protocol.RoleAssistant, Content: "Let me look that up.", ToolCalls: []protocol.ToolCall{
				{ID: "t0", Name: "get_project_status", Arguments: map[string]any{"project_name": "Dune"}},
			}},
			{Role: protocol.RoleTool, ToolCallID: "t0", Content: `{"status":"greenlit"}`},
		},
		Tools: []ToolDefinition{{
			Name:        "get_project_status",
			Description: "Look up a project's greenlight status.",
			Parameters:  map[string]any{"type": "object"},
		}},
	}
	resp, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Checking the pipeline.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_project_status", resp.ToolCalls[0].Name)
	assert.Equal(t, "t1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"project_name": "Dune"}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, protocol.Usage{PromptTokens: 40, CompletionTokens: 9, TotalTokens: 49}, resp.Usage)
	assert.Equal(t, "tool_use", resp.StopReason)

	sent := stub.lastParams
	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), sent.Model)
	assert.EqualValues(t, 256, sent.MaxTokens)
	require.Len(t, sent.System, 1)
	assert.Equal(t, "You are the sales agent.", sent.System[0].Text)
	assert.Len(t, sent.Messages, 3)
	assert.Len(t, sent.Tools, 1)
}

func TestAnthropicStreamAccumulates(t *testing.T) {
	events := []ssestream.Event{
		{Type: "message_start", Data: []byte(`{"type":"message_start","message":{"usage":{"input_tokens":12}}}`)},
		{Type: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Box office "}}`)},
		{Type: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"is up."}}`)},
		{Type: "content_block_start", Data: []byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"query_sales_pipeline"}}`)},
		{Type: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"stage\":"}}`)},
		{Type: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"won\"}"}}`)},
		{Type: "message_delta", Data: []byte(`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":21}}`)},
		{Type: "message_stop", Data: []byte(`{"type":"message_stop"}`)},
	}
	stub := &stubMessages{events: events}
	p := testAnthropic(stub)

	ch, err := p.Stream(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: protocol.RoleUser, Content: "pipeline?"}},
	})
	require.NoError(t, err)

	var text strings.Builder
	var final Chunk
	for c := range ch {
		require.NoError(t, c.Err)
		if c.Done {
			final = c
			continue
		}
		text.WriteString(c.Text)
	}

	assert.Equal(t, "Box office is up.", text.String())
	require.True(t, final.Done)
	require.NotNil(t, final.Usage)
	assert.Equal(t, protocol.Usage{PromptTokens: 12, CompletionTokens: 21, TotalTokens: 33}, *final.Usage)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "query_sales_pipeline", final.ToolCalls[0].Name)
	assert.Equal(t, "t1", final.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"stage": "won"}, final.ToolCalls[0].Arguments)
}

func TestAnthropicStreamOpenError(t *testing.T) {
	stub := &stubMessages{streamErr: anthropicError(529)}
	p := testAnthropic(stub)

	_, err := p.Stream(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: protocol.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, protocol.KindProviderUnavail, protocol.KindOf(err))
}

func TestAnthropicRejectsInlineSystemTurn(t *testing.T) {
	p := testAnthropic(&stubMessages{})

	_, err := p.Complete(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: protocol.RoleSystem, Content: "sys"}},
	})
	require.Error(t, err)
	assert.Equal(t, protocol.KindValidation, protocol.KindOf(err))
}

func TestAnthropicHealthClassifiesFailure(t *testing.T) {
	stub := &stubMessages{err: anthropicError(500)}
	p := testAnthropic(stub)

	err := p.Health(context.Background())
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))
	assert.Equal(t, sdk.Model("claude-3-5-haiku-latest"), stub.lastParams.Model)
	assert.EqualValues(t, 1, stub.lastParams.MaxTokens)
}
