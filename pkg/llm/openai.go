package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// OpenAIProvider speaks the OpenAI chat completions API. Groq exposes
// the same wire format, so one implementation serves both vendors with
// only the base URL and model catalogue differing.
type OpenAIProvider struct {
	client      oai.Client
	name        string
	healthModel string
}

// NewOpenAI builds a provider from configuration. The provider type
// (groq or openai) becomes its name.
func NewOpenAI(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", cfg.Type)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client:      oai.NewClient(opts...),
		name:        cfg.Type,
		healthModel: cfg.Models.Simple,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, protocol.E(protocol.KindValidation, p.name+".complete", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyProviderError(p.name+".complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, protocol.Errorf(protocol.KindProviderUnavail, p.name+".complete", "empty choices in response")
	}
	choice := resp.Choices[0]
	out := &Response{
		Content: choice.Message.Content,
		Usage: protocol.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseToolArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, protocol.E(protocol.KindValidation, p.name+".stream", err)
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
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
			args string
		}
		accum := map[int]*toolAccum{}
		emit := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = protocol.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				acc, ok := accum[idx]
				if !ok {
					acc = &toolAccum{}
					accum[idx] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args += tc.Function.Arguments
			}
			if delta.Content != "" {
				if !emit(Chunk{Text: delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			emit(Chunk{Err: classifyProviderError(p.name+".stream", err)})
			return
		}

		final := Chunk{Done: true, Usage: &usage, Model: req.Model}
		for i := 0; i < len(accum); i++ {
			if acc, ok := accum[i]; ok {
				final.ToolCalls = append(final.ToolCalls, protocol.ToolCall{
					ID:        acc.id,
					Name:      acc.name,
					Arguments: parseToolArguments(acc.args),
				})
			}
		}
		emit(final)
	}()
	return ch, nil
}

// Health issues a minimal one-token completion against the cheapest
// configured model.
func (p *OpenAIProvider) Health(ctx context.Context) error {
	_, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.healthModel),
		Messages:            []oai.ChatCompletionMessageParamUnion{oai.UserMessage("ping")},
		MaxCompletionTokens: param.NewOpt(int64(1)),
	})
	if err != nil {
		return classifyProviderError(p.name+".health", err)
	}
	return nil
}

func (p *OpenAIProvider) buildParams(req Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		converted, err := convertOpenAIMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, converted)
	}
	if len(messages) == 0 {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("messages are required")
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params, nil
}

func convertOpenAIMessage(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case protocol.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case protocol.RoleUser:
		return oai.UserMessage(m.Content), nil
	case protocol.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: encodeToolArguments(tc.Arguments),
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case protocol.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}
