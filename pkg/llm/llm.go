// Package llm routes chat completions across providers. A primary
// (lower-cost, open-model) and a secondary (higher-capability,
// proprietary) provider sit behind one Router that applies the
// sensitivity floor, complexity-based model tiers, health gating and
// in-provider retry with cross-provider fallback. The router also owns
// query embeddings and per-provider usage accounting.
package llm

import (
	"context"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Message is one chat message in provider-neutral form.
type Message struct {
	Role       protocol.Role
	Content    string
	ToolCalls  []protocol.ToolCall
	ToolCallID string
	ToolName   string
	IsError    bool
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a provider-neutral completion request. Model is filled in
// by the router from the provider's tier table; callers leave it empty.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is a completed (non-streaming) model turn.
type Response struct {
	Content    string
	ToolCalls  []protocol.ToolCall
	Usage      protocol.Usage
	StopReason string
}

// Chunk is one streaming delta. Exactly one terminal chunk is emitted:
// either Done with final usage and attribution, or Err.
type Chunk struct {
	Text      string
	ToolCalls []protocol.ToolCall

	Done     bool
	Usage    *protocol.Usage
	Provider string
	Model    string
	Cost     float64

	Err error
}

// Provider is one model vendor. Implementations map provider-specific
// wire shapes and errors into the neutral types. Embeddings are served
// by the separate Embedder, not by chat providers.
type Provider interface {
	// Name is the provider implementation name (groq, openai, anthropic).
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	Health(ctx context.Context) error
}

// Result is a routed completion with provider attribution.
type Result struct {
	Response
	// Provider is the routing role that served the call, not the vendor
	// name. Wire consumers and metric keys use roles.
	Provider string
	Model    string
	Cost     float64
}
