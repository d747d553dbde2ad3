// Package tools exposes the closed set of typed, policy-annotated
// capabilities agents may invoke against the knowledge graph. Every tool
// declares its input schema, its minimum role, the sensitivity of its
// output fields, and whether it is an idempotent read; the registry
// enforces all of that uniformly so individual tools stay thin query
// wrappers. Tools hold storage and embedding handles only and never
// reach wider application state.
package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// GraphStore is the slice of the graph client tools query through.
type GraphStore interface {
	Run(ctx context.Context, q graph.Query) ([]graph.Record, error)
	VectorSearch(ctx context.Context, index string, embedding []float32, k int, minScore float64) ([]graph.VectorHit, error)
}

// Embedder produces query embeddings for semantic tools.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PermissionChecker answers permission-slug questions for a principal.
type PermissionChecker interface {
	Can(ctx context.Context, p rbac.Principal, slug string) bool
}

// Handles are the storage and embedding capabilities tools close over.
type Handles struct {
	Graph GraphStore
	Embed Embedder
}

// Output is a tool's raw result before egress redaction. Found reports
// whether the lookup matched anything; a miss is a successful call.
type Output struct {
	Found bool
	Data  map[string]any
}

// Tool is one capability in the closed set. The declaration carries
// everything the registry needs to list, gate, and execute it.
type Tool struct {
	// Name is the stable identifier models invoke the tool by.
	Name string

	// Description is part of the LLM-facing surface.
	Description string

	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any

	// MinRole gates invocation by the role hierarchy. Roles at or
	// above it may call; the zero role admits everyone.
	MinRole rbac.Role

	// Permission is an optional permission slug resolved through the
	// rbac gate. Empty means no slug is required.
	Permission string

	// Sensitivity annotates output fields the registry redacts at
	// egress for principals below the field's data-access level.
	Sensitivity rbac.Sensitivity

	// Idempotent marks the tool safe to re-invoke with the same
	// arguments. All canonical tools are idempotent reads.
	Idempotent bool

	// Run executes the tool. The principal is passed through so tools
	// that merge multiple record kinds can redact before merging.
	Run func(ctx context.Context, p rbac.Principal, args map[string]any) (Output, error)
}

// Registry holds the tool set and executes calls under uniform policy
// checks, timeouts, and egress redaction.
type Registry struct {
	tools    map[string]Tool
	order    []string
	gate     PermissionChecker
	recorder observability.Recorder
	timeout  time.Duration
}

// NewRegistry builds an empty registry. A nil recorder disables metrics.
func NewRegistry(cfg config.AgentsConfig, gate PermissionChecker, recorder observability.Recorder) *Registry {
	if recorder == nil {
		recorder = observability.NopRecorder{}
	}
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		tools:    make(map[string]Tool),
		gate:     gate,
		recorder: recorder,
		timeout:  timeout,
	}
}

// Register adds tools to the set. Names must be unique.
func (r *Registry) Register(ts ...Tool) error {
	for _, t := range ts {
		if t.Name == "" {
			return protocol.Errorf(protocol.KindValidation, "tools.register", "tool name cannot be empty")
		}
		if t.Run == nil {
			return protocol.Errorf(protocol.KindValidation, "tools.register", "tool %q has no implementation", t.Name)
		}
		if _, exists := r.tools[t.Name]; exists {
			return protocol.Errorf(protocol.KindValidation, "tools.register", "tool %q already registered", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists all registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Visible returns the tools the principal may invoke, in registration
// order. A non-nil allow list further restricts the set to the named
// tools; agents use it to scope their per-variant tool subset.
func (r *Registry) Visible(ctx context.Context, p rbac.Principal, allow []string) []Tool {
	var allowed map[string]bool
	if allow != nil {
		allowed = make(map[string]bool, len(allow))
		for _, name := range allow {
			allowed[name] = true
		}
	}
	var out []Tool
	for _, name := range r.order {
		if allowed != nil && !allowed[name] {
			continue
		}
		t := r.tools[name]
		if !p.Role.AtLeast(t.MinRole) {
			continue
		}
		if t.Permission != "" && !r.gate.Can(ctx, p, t.Permission) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Definitions maps tools to the router's tool declaration format.
func Definitions(ts []Tool) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(ts))
	for i, t := range ts {
		out[i] = llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// Execute runs one tool call for the principal. Every failure is folded
// into a structured error result rather than returned, so partial tool
// failures never abort an agent turn; callers inspect Status.
func (r *Registry) Execute(ctx context.Context, p rbac.Principal, call protocol.ToolCall) protocol.ToolResult {
	start := time.Now()
	tracer := observability.Tracer("greenroom.tools")
	ctx, span := tracer.Start(ctx, "tools.execute",
		trace.WithAttributes(attribute.String("tool.name", call.Name)),
	)
	defer span.End()

	tool, ok := r.tools[call.Name]
	if !ok {
		err := protocol.Errorf(protocol.KindValidation, "tools.execute", "unknown tool %q", call.Name)
		return r.fail(ctx, span, call.Name, start, err)
	}
	if !p.Role.AtLeast(tool.MinRole) {
		err := protocol.Errorf(protocol.KindForbidden, "tools.execute",
			"tool %q requires role %s", call.Name, tool.MinRole)
		return r.fail(ctx, span, call.Name, start, err)
	}
	if tool.Permission != "" && !r.gate.Can(ctx, p, tool.Permission) {
		err := protocol.Errorf(protocol.KindForbidden, "tools.execute",
			"tool %q requires permission %s", call.Name, tool.Permission)
		return r.fail(ctx, span, call.Name, start, err)
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := tool.Run(tctx, p, call.Arguments)
	duration := time.Since(start)
	r.recorder.RecordToolCall(ctx, call.Name, duration, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("tools: execution failed",
			"tool", call.Name, "user_id", p.ID, "duration", duration, "error", err)
		return protocol.ToolResult{
			Name:   call.Name,
			Status: protocol.ToolStatusError,
			Error:  resultMessage(err),
		}
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.Bool("tool.found", out.Found),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)
	return protocol.ToolResult{
		Name:   call.Name,
		Status: protocol.ToolStatusOK,
		Found:  out.Found,
		Data:   rbac.Redact(out.Data, tool.Sensitivity, p),
	}
}

func (r *Registry) fail(ctx context.Context, span trace.Span, name string, start time.Time, err error) protocol.ToolResult {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.recorder.RecordToolCall(ctx, name, time.Since(start), err)
	slog.Warn("tools: call rejected", "tool", name, "error", err)
	return protocol.ToolResult{
		Name:   name,
		Status: protocol.ToolStatusError,
		Error:  resultMessage(err),
	}
}

// resultMessage picks the LLM-facing error string. Validation and
// permission errors keep their detail so the model can correct the call
// or explain the denial; everything else degrades to the generic user
// message so internal detail never reaches the prompt.
func resultMessage(err error) string {
	var pe *protocol.Error
	if errors.As(err, &pe) && pe.Err != nil {
		switch pe.Kind {
		case protocol.KindValidation, protocol.KindForbidden:
			return pe.Err.Error()
		}
	}
	return protocol.UserMessage(err)
}
