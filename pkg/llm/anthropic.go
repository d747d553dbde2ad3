package llm

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// MessagesClient is the subset of the Anthropic SDK used by the
// provider. *sdk.MessageService satisfies it, and tests swap in fakes.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicProvider speaks the Claude Messages API.
type AnthropicProvider struct {
	msg         MessagesClient
	name        string
	healthModel string
	maxTokens   int
}

// NewAnthropic builds a provider from configuration.
func NewAnthropic(cfg config.ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", cfg.Type)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)
	return newAnthropicWithClient(&client.Messages, cfg), nil
}

func newAnthropicWithClient(msg MessagesClient, cfg config.ProviderConfig) *AnthropicProvider {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		msg:         msg,
		name:        cfg.Type,
		healthModel: cfg.Models.Simple,
		maxTokens:   maxTokens,
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, protocol.E(protocol.KindValidation, p.name+".complete", err)
	}
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return nil, classifyProviderError(p.name+".complete", err)
	}

	out := &Response{
		Usage: protocol.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: parseToolArguments(string(block.Input)),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, protocol.E(protocol.KindValidation, p.name+".stream", err)
	}
	stream := p.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyProviderError(p.name+".stream", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var usage protocol.Usage
		type toolAccum struct {
			id   string
			name string
			args strings.Builder
		}
		accum := map[int]*toolAccum{}
		var order []int
		emit := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case sdk.MessageStartEvent:
				usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					idx := int(ev.Index)
					accum[idx] = &toolAccum{id: tu.ID, name: tu.Name}
					order = append(order, idx)
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !emit(Chunk{Text: delta.Text}) {
						return
					}
				case sdk.InputJSONDelta:
					if acc, ok := accum[int(ev.Index)]; ok {
						acc.args.WriteString(delta.PartialJSON)
					}
				}
			case sdk.MessageDeltaEvent:
				if ev.Usage.InputTokens > 0 {
					usage.PromptTokens = int(ev.Usage.InputTokens)
				}
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			emit(Chunk{Err: classifyProviderError(p.name+".stream", err)})
			return
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		final := Chunk{Done: true, Usage: &usage, Model: req.Model}
		for _, idx := range order {
			acc := accum[idx]
			final.ToolCalls = append(final.ToolCalls, protocol.ToolCall{
				ID:        acc.id,
				Name:      acc.name,
				Arguments: parseToolArguments(acc.args.String()),
			})
		}
		emit(final)
	}()
	return ch, nil
}

// Health issues a minimal one-token completion against the cheapest
// configured model.
func (p *AnthropicProvider) Health(ctx context.Context) error {
	_, err := p.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.healthModel),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	})
	if err != nil {
		return classifyProviderError(p.name+".health", err)
	}
	return nil
}

func (p *AnthropicProvider) buildParams(req Request) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, m := range req.Messages {
		converted, err := convertAnthropicMessage(m)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		if converted != nil {
			params.Messages = append(params.Messages, *converted)
		}
	}
	if len(params.Messages) == 0 {
		return sdk.MessageNewParams{}, fmt.Errorf("messages are required")
	}
	for _, td := range req.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: td.Parameters}, td.Name)
		if u.OfTool != nil && td.Description != "" {
			u.OfTool.Description = sdk.String(td.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	return params, nil
}

// convertAnthropicMessage maps a transcript turn onto the Messages API
// shape. System turns are hoisted into params.System by the caller, and
// tool results ride as user-role tool_result blocks.
func convertAnthropicMessage(m Message) (*sdk.MessageParam, error) {
	switch m.Role {
	case protocol.RoleSystem:
		return nil, fmt.Errorf("system turns must be passed via Request.System")
	case protocol.RoleUser:
		msg := sdk.NewUserMessage(sdk.NewTextBlock(m.Content))
		return &msg, nil
	case protocol.RoleAssistant:
		var blocks []sdk.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
		}
		if len(blocks) == 0 {
			blocks = append(blocks, sdk.NewTextBlock(""))
		}
		msg := sdk.NewAssistantMessage(blocks...)
		return &msg, nil
	case protocol.RoleTool:
		msg := sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", m.Role)
	}
}
