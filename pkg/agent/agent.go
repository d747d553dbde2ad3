// Package agent runs the specialist conversational agents as a
// deterministic state machine: initialize, load_memory, classify, a
// bounded call_llm/route_tools loop, respond, persist, with serialized
// state checkpointed after every node. The Sales, Talent and Analytics
// variants share the machine and differ only in system prompt,
// permitted tool subset, model preference and memory-type weights.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/greenroom-ai/greenroom/pkg/checkpoint"
	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/memory"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
	"github.com/greenroom-ai/greenroom/pkg/tools"
)

// Router is the slice of the llm router agents call.
type Router interface {
	Stream(ctx context.Context, req llm.Request, opts llm.CallOptions) (<-chan llm.Chunk, error)
}

// Toolbox is the slice of the tool registry agents call.
type Toolbox interface {
	Visible(ctx context.Context, p rbac.Principal, allow []string) []tools.Tool
	Get(name string) (tools.Tool, bool)
	Execute(ctx context.Context, p rbac.Principal, call protocol.ToolCall) protocol.ToolResult
}

// Memories serves the load_memory node.
type Memories interface {
	Search(ctx context.Context, userID, query string, k int, weights map[memory.ItemType]float64) ([]memory.Item, error)
	CachedContext(ctx context.Context, threadID string) (string, bool, error)
	CacheContext(ctx context.Context, threadID, rendered string) error
}

// Transcript is the slice of the conversation store agents call.
type Transcript interface {
	Get(ctx context.Context, conversationID string) (*protocol.Conversation, error)
	Recent(ctx context.Context, conversationID string, n int) ([]protocol.Turn, error)
	Append(ctx context.Context, conversationID, userID string, turns ...protocol.Turn) (*protocol.Conversation, error)
}

// Checkpoints is the slice of the checkpoint store agents call.
type Checkpoints interface {
	Latest(ctx context.Context, conversationID string) (*checkpoint.Checkpoint, error)
	Save(ctx context.Context, cp checkpoint.Checkpoint) error
}

// ExtractionQueue enqueues post-turn memory work.
type ExtractionQueue interface {
	Enqueue(ctx context.Context, task memory.Task) (memory.Task, error)
}

// Emitter receives a running turn's streaming output. The session
// layer adapts it onto websocket frames; detached multi-agent runs
// discard it.
type Emitter interface {
	// Delta delivers one chunk of assistant text.
	Delta(text string)
	// Status reports a node transition worth showing to the user.
	Status(state, detail string)
}

// Status states reported through the Emitter.
const (
	StatusThinking = "thinking"
	StatusToolCall = "tool_call"
)

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Delta(string)          {}
func (NopEmitter) Status(string, string) {}

// Deps are the collaborators an agent runs against.
type Deps struct {
	Router      Router
	Tools       Toolbox
	Memory      Memories
	Transcript  Transcript
	Checkpoints Checkpoints
	Queue       ExtractionQueue
	Recorder    observability.Recorder
}

// Request is one user turn for the agent to answer. The orchestrator
// appends the user turn before dispatching; the agent produces and
// persists the assistant turn.
type Request struct {
	Principal      rbac.Principal
	ConversationID string
	UserMessage    string

	// Emitter receives deltas and status updates. Nil discards them.
	Emitter Emitter
}

// historyWindow is how many recent turns initialize replays.
const historyWindow = 20

const clarifyInstruction = "The user's message is too vague to act on. Ask one short clarifying question instead of answering."

const emptyReply = "I was not able to put together an answer for that. Could you rephrase or narrow the question?"

// Agent executes turns for one variant.
type Agent struct {
	variant Variant
	deps    Deps
	cfg     config.AgentsConfig
	now     func() time.Time
	newID   func() string
}

// New builds an agent for the variant. A prompt override keyed by the
// variant's type in cfg.Prompts replaces the built-in system prompt.
func New(variant Variant, deps Deps, cfg config.AgentsConfig) (*Agent, error) {
	if variant.Type == "" {
		return nil, protocol.Errorf(protocol.KindValidation, "agent.new", "variant has no agent type")
	}
	if variant.SystemPrompt == "" {
		return nil, protocol.Errorf(protocol.KindValidation, "agent.new", "variant %s has no system prompt", variant.Type)
	}
	if deps.Router == nil || deps.Tools == nil || deps.Memory == nil ||
		deps.Transcript == nil || deps.Checkpoints == nil || deps.Queue == nil {
		return nil, protocol.Errorf(protocol.KindValidation, "agent.new", "agent %s is missing a collaborator", variant.Type)
	}
	if deps.Recorder == nil {
		deps.Recorder = observability.NopRecorder{}
	}
	if override := cfg.Prompts[string(variant.Type)]; override != "" {
		variant.SystemPrompt = override
	}
	return &Agent{
		variant: variant,
		deps:    deps,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Type returns the variant's agent type.
func (a *Agent) Type() protocol.AgentType { return a.variant.Type }

// Run executes the full state machine for one turn and returns the
// persisted assistant turn. Cancellation is not an error: the partial
// turn is recorded with status cancelled and returned.
func (a *Agent) Run(ctx context.Context, req Request) (*protocol.Turn, error) {
	return a.run(ctx, req, true)
}

// Draft executes the machine up to respond and returns the assistant
// turn without persisting it. Multi-agent fan-out runs agents detached
// and persists the merged turn once; detached runs write no
// checkpoints and enqueue no extraction.
func (a *Agent) Draft(ctx context.Context, req Request) (*protocol.Turn, error) {
	return a.run(ctx, req, false)
}

func (a *Agent) run(ctx context.Context, req Request, attached bool) (*protocol.Turn, error) {
	start := a.now()
	emit := req.Emitter
	if emit == nil {
		emit = NopEmitter{}
	}
	tracer := observability.Tracer("greenroom.agent")
	ctx, span := tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent.type", string(a.variant.Type)),
			attribute.String("conversation.id", req.ConversationID),
		),
	)
	defer span.End()

	st := &State{
		ConversationID: req.ConversationID,
		Principal:      req.Principal,
		AgentType:      a.variant.Type,
		UserMessage:    strings.TrimSpace(req.UserMessage),
	}

	// Checkpoint steps continue the conversation's existing sequence.
	step := 0
	if attached {
		latest, err := a.deps.Checkpoints.Latest(ctx, req.ConversationID)
		switch {
		case err == nil:
			step = latest.Step
		case errors.Is(err, kv.ErrNotFound):
		default:
			return a.fail(ctx, span, st, NodeInitialize, start, attached, err)
		}
	}
	mark := func(node string) error {
		if !attached {
			return nil
		}
		payload, err := json.Marshal(st)
		if err != nil {
			return protocol.E(protocol.KindInternal, "agent.checkpoint", err)
		}
		step++
		return a.deps.Checkpoints.Save(ctx, checkpoint.Checkpoint{
			ConversationID: req.ConversationID,
			Step:           step,
			Node:           node,
			State:          payload,
		})
	}

	if err := a.initialize(ctx, st); err != nil {
		return a.fail(ctx, span, st, NodeInitialize, start, attached, err)
	}
	if err := mark(NodeInitialize); err != nil {
		return a.fail(ctx, span, st, NodeInitialize, start, attached, err)
	}

	if err := a.loadMemory(ctx, st); err != nil {
		return a.fail(ctx, span, st, NodeLoadMemory, start, attached, err)
	}
	if err := mark(NodeLoadMemory); err != nil {
		return a.fail(ctx, span, st, NodeLoadMemory, start, attached, err)
	}

	visible := a.deps.Tools.Visible(ctx, st.Principal, a.variant.Tools)
	st.Mode = classifyMode(st.UserMessage, len(visible))
	emit.Status(StatusThinking, string(st.Mode))
	if err := mark(NodeClassify); err != nil {
		return a.fail(ctx, span, st, NodeClassify, start, attached, err)
	}

	defs := tools.Definitions(visible)
	allowed := make(map[string]bool, len(visible))
	for _, t := range visible {
		allowed[t.Name] = true
	}

	for {
		if ctx.Err() != nil {
			return a.cancelled(ctx, span, st, start, attached)
		}
		st.Steps++
		reqTools := defs
		if st.Mode != ModeToolAugmented || st.Steps >= a.stepBudget() {
			// The last budgeted step withholds tools so the model
			// must answer with what it has.
			reqTools = nil
		}
		text, calls, err := a.callLLM(ctx, st, reqTools, emit)
		st.Content += text
		if err != nil {
			return a.fail(ctx, span, st, NodeCallLLM, start, attached, err)
		}
		st.Messages = append(st.Messages, llm.Message{
			Role:      protocol.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		if err := mark(NodeCallLLM); err != nil {
			return a.fail(ctx, span, st, NodeCallLLM, start, attached, err)
		}
		if len(calls) == 0 {
			break
		}

		emit.Status(StatusToolCall, callNames(calls))
		results := a.routeTools(ctx, st.Principal, allowed, calls)
		st.Calls = append(st.Calls, calls...)
		st.Results = append(st.Results, results...)
		st.Messages = append(st.Messages, toolMessages(calls, results)...)
		if err := mark(NodeRouteTools); err != nil {
			return a.fail(ctx, span, st, NodeRouteTools, start, attached, err)
		}
	}

	a.respond(st)
	if err := mark(NodeRespond); err != nil {
		return a.fail(ctx, span, st, NodeRespond, start, attached, err)
	}

	if !attached {
		turn := a.turnFromState(st, protocol.TurnComplete)
		span.SetStatus(codes.Ok, "")
		a.deps.Recorder.RecordAgentTurn(ctx, string(a.variant.Type), a.now().Sub(start), st.Usage.TotalTokens, nil)
		return &turn, nil
	}

	turn, err := a.persist(ctx, st)
	if err != nil {
		return a.fail(ctx, span, st, NodePersist, start, attached, err)
	}
	// The assistant turn is durable at this point. A checkpoint or
	// queue failure after it must not turn a delivered answer into an
	// error frame.
	if err := mark(NodePersist); err != nil {
		slog.Warn("agent: persist checkpoint not written",
			"agent", a.variant.Type, "conversation_id", st.ConversationID, "error", err)
	}
	a.enqueueExtraction(ctx, st, turn.ID)

	span.SetStatus(codes.Ok, "")
	a.deps.Recorder.RecordAgentTurn(ctx, string(a.variant.Type), a.now().Sub(start), st.Usage.TotalTokens, nil)
	return turn, nil
}

// initialize hydrates the conversation context and the variant's
// system prompt. The conversation must exist and belong to the
// principal.
func (a *Agent) initialize(ctx context.Context, st *State) error {
	if st.Principal.ID == "" {
		return protocol.Errorf(protocol.KindValidation, "agent.initialize", "request has no principal")
	}
	if st.UserMessage == "" {
		return protocol.Errorf(protocol.KindValidation, "agent.initialize", "empty user message")
	}
	conv, err := a.deps.Transcript.Get(ctx, st.ConversationID)
	if errors.Is(err, kv.ErrNotFound) {
		return protocol.Errorf(protocol.KindValidation, "agent.initialize",
			"conversation %s not found", st.ConversationID)
	}
	if err != nil {
		return err
	}
	if conv.UserID != st.Principal.ID {
		return protocol.Errorf(protocol.KindForbidden, "agent.initialize",
			"conversation %s belongs to another user", conv.ID)
	}

	st.System = a.variant.SystemPrompt
	if conv.Summary != "" {
		st.System += "\n\nConversation so far:\n" + conv.Summary
	}
	turns, err := a.deps.Transcript.Recent(ctx, st.ConversationID, historyWindow)
	if err != nil {
		return err
	}
	st.Messages = historyMessages(turns, st.UserMessage)
	return nil
}

// loadMemory attaches the relevant memory block for the turn. The
// rendered block is cached per conversation so an active thread does
// not re-run vector search on every turn.
func (a *Agent) loadMemory(ctx context.Context, st *State) error {
	rendered, ok, err := a.deps.Memory.CachedContext(ctx, st.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		items, err := a.deps.Memory.Search(ctx, st.Principal.ID, st.UserMessage, a.cfg.MemoryK, a.variant.MemoryWeights)
		if err != nil {
			return err
		}
		rendered = renderMemories(items)
		if rendered != "" {
			if err := a.deps.Memory.CacheContext(ctx, st.ConversationID, rendered); err != nil {
				slog.Debug("agent: memory context not cached",
					"conversation_id", st.ConversationID, "error", err)
			}
		}
	}
	if rendered != "" {
		st.System += "\n\n" + rendered
	}
	return nil
}

// callLLM streams one model call, forwarding deltas as they arrive and
// collecting any requested tool calls. Partial text is returned even
// on error so cancelled turns keep what was already streamed.
func (a *Agent) callLLM(ctx context.Context, st *State, defs []llm.ToolDefinition, emit Emitter) (string, []protocol.ToolCall, error) {
	system := st.System
	if st.Mode == ModeClarify {
		system += "\n\n" + clarifyInstruction
	}
	stream, err := a.deps.Router.Stream(ctx,
		llm.Request{System: system, Messages: st.Messages, Tools: defs},
		llm.CallOptions{
			Principal:  &st.Principal,
			AgentType:  a.variant.Type,
			Complexity: a.variant.Complexity,
			Preferred:  a.variant.Preferred,
		},
	)
	if err != nil {
		return "", nil, err
	}
	var text strings.Builder
	var calls []protocol.ToolCall
	for chunk := range stream {
		if chunk.Err != nil {
			return text.String(), calls, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			emit.Delta(chunk.Text)
		}
		calls = append(calls, chunk.ToolCalls...)
		if chunk.Done {
			if chunk.Usage != nil {
				st.Usage.Add(*chunk.Usage)
			}
			st.Provider = chunk.Provider
			st.Model = chunk.Model
		}
	}
	return text.String(), calls, nil
}

// routeTools executes one round of model-requested calls. Calls
// outside the variant's permitted set fail without executing; the rest
// run in parallel under the fan-out cap. Failures become error
// results, never node failures.
func (a *Agent) routeTools(ctx context.Context, p rbac.Principal, allowed map[string]bool, calls []protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, len(calls))
	var g errgroup.Group
	g.SetLimit(a.toolFanout())
	for i, call := range calls {
		if !allowed[call.Name] {
			results[i] = protocol.ToolResult{
				Name:   call.Name,
				Status: protocol.ToolStatusError,
				Error:  fmt.Sprintf("tool %q is not available to the %s agent", call.Name, a.variant.Type),
			}
			continue
		}
		g.Go(func() error {
			results[i] = a.deps.Tools.Execute(ctx, p, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// respond finalizes the turn. Tool output was redacted at egress; the
// same masking runs once more over everything the turn accumulated
// before the text is finalized.
func (a *Agent) respond(st *State) {
	for i, res := range st.Results {
		if res.Data == nil {
			continue
		}
		tool, ok := a.deps.Tools.Get(res.Name)
		if !ok {
			continue
		}
		st.Results[i].Data = rbac.Redact(res.Data, tool.Sensitivity, st.Principal)
	}
	st.Content = strings.TrimSpace(st.Content)
	if st.Content == "" {
		st.Content = emptyReply
	}
}

// persist appends the assistant turn to the transcript.
func (a *Agent) persist(ctx context.Context, st *State) (*protocol.Turn, error) {
	turn := a.turnFromState(st, protocol.TurnComplete)
	turn.ID = a.newID()
	if _, err := a.deps.Transcript.Append(ctx, st.ConversationID, st.Principal.ID, turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

// enqueueExtraction hands the finished exchange to the memory
// pipeline. The turn already succeeded; a queue failure only costs
// this window.
func (a *Agent) enqueueExtraction(ctx context.Context, st *State, turnID string) {
	_, err := a.deps.Queue.Enqueue(ctx, memory.Task{
		Kind:           memory.TaskExtract,
		UserID:         st.Principal.ID,
		ConversationID: st.ConversationID,
		TurnID:         turnID,
		Window:         renderWindow(st.UserMessage, st.Content),
		Priority:       memory.PriorityNormal,
	})
	if err != nil {
		slog.Warn("agent: extraction not enqueued",
			"conversation_id", st.ConversationID, "turn_id", turnID, "error", err)
	}
}

// fail is the error terminal. It records the structured error, appends
// a failed turn carrying only the generic user message, and returns
// the original error. Cancellation is rerouted to the cancelled
// terminal instead.
func (a *Agent) fail(ctx context.Context, span trace.Span, st *State, node string, start time.Time, attached bool, err error) (*protocol.Turn, error) {
	if protocol.IsKind(err, protocol.KindCancelled) {
		return a.cancelled(ctx, span, st, start, attached)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	a.deps.Recorder.RecordAgentTurn(ctx, string(a.variant.Type), a.now().Sub(start), st.Usage.TotalTokens, err)
	slog.Error("agent: node failed",
		"agent", a.variant.Type, "node", node,
		"conversation_id", st.ConversationID, "user_id", st.Principal.ID, "error", err)
	if attached {
		failed := protocol.Turn{
			ID:        a.newID(),
			Role:      protocol.RoleAssistant,
			Content:   protocol.UserMessage(err),
			Status:    protocol.TurnFailed,
			Usage:     usagePtr(st.Usage),
			AgentType: a.variant.Type,
		}
		pctx := context.WithoutCancel(ctx)
		if _, aerr := a.deps.Transcript.Append(pctx, st.ConversationID, st.Principal.ID, failed); aerr != nil {
			slog.Warn("agent: failed turn not recorded",
				"conversation_id", st.ConversationID, "error", aerr)
		}
	}
	return nil, err
}

// cancelled finalizes a cut-off turn. Partial content is kept, the
// turn is recorded with status cancelled, and no error is returned.
func (a *Agent) cancelled(ctx context.Context, span trace.Span, st *State, start time.Time, attached bool) (*protocol.Turn, error) {
	span.SetAttributes(attribute.Bool("agent.cancelled", true))
	span.SetStatus(codes.Ok, "")
	a.deps.Recorder.RecordAgentTurn(ctx, string(a.variant.Type), a.now().Sub(start), st.Usage.TotalTokens, context.Canceled)
	st.Content = strings.TrimSpace(st.Content)
	turn := a.turnFromState(st, protocol.TurnCancelled)
	if attached {
		turn.ID = a.newID()
		pctx := context.WithoutCancel(ctx)
		if _, err := a.deps.Transcript.Append(pctx, st.ConversationID, st.Principal.ID, turn); err != nil {
			slog.Warn("agent: cancelled turn not recorded",
				"conversation_id", st.ConversationID, "error", err)
		}
	}
	return &turn, nil
}

func (a *Agent) turnFromState(st *State, status protocol.TurnStatus) protocol.Turn {
	return protocol.Turn{
		Role:      protocol.RoleAssistant,
		Content:   st.Content,
		Status:    status,
		Usage:     usagePtr(st.Usage),
		ToolCalls: st.Calls,
		Results:   st.Results,
		Provider:  st.Provider,
		Model:     st.Model,
		AgentType: a.variant.Type,
	}
}

func (a *Agent) stepBudget() int {
	if a.cfg.StepBudget < 1 {
		return 1
	}
	return a.cfg.StepBudget
}

func (a *Agent) toolFanout() int {
	if a.cfg.ToolFanout < 1 {
		return 1
	}
	return a.cfg.ToolFanout
}
