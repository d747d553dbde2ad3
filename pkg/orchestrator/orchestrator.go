// Package orchestrator is the supervisor in front of the specialist
// agents. It classifies each user message (rule buckets first, an LLM
// call when the rules are unsure), serializes dispatch per
// conversation, forwards single-domain questions to one agent, fans
// domain-spanning questions out to several agents in parallel and
// merges their drafts through a supervisor model call, owns the
// cancellation scope for in-flight turns, and refreshes the
// conversation summary on an interval.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/greenroom-ai/greenroom/pkg/agent"
	"github.com/greenroom-ai/greenroom/pkg/checkpoint"
	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/memory"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// Router is the slice of the llm router the orchestrator calls for
// classification, supervision and summaries.
type Router interface {
	Complete(ctx context.Context, req llm.Request, opts llm.CallOptions) (*llm.Result, error)
}

// Runner is one dispatchable specialist agent.
type Runner interface {
	Type() protocol.AgentType
	Run(ctx context.Context, req agent.Request) (*protocol.Turn, error)
	Draft(ctx context.Context, req agent.Request) (*protocol.Turn, error)
}

// Conversations is the slice of the conversation store the
// orchestrator calls.
type Conversations interface {
	GetOrCreate(ctx context.Context, conversationID, userID string, affinity protocol.AgentType) (*protocol.Conversation, bool, error)
	Append(ctx context.Context, conversationID, userID string, turns ...protocol.Turn) (*protocol.Conversation, error)
	Recent(ctx context.Context, conversationID string, n int) ([]protocol.Turn, error)
	SetSummary(ctx context.Context, conversationID, userID, summary string) error
}

// Checkpoints persists merged multi-agent turns.
type Checkpoints interface {
	Latest(ctx context.Context, conversationID string) (*checkpoint.Checkpoint, error)
	Save(ctx context.Context, cp checkpoint.Checkpoint) error
}

// ExtractionQueue enqueues post-turn memory work.
type ExtractionQueue interface {
	Enqueue(ctx context.Context, task memory.Task) (memory.Task, error)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Router        Router
	Conversations Conversations
	Checkpoints   Checkpoints
	Queue         ExtractionQueue
	Recorder      observability.Recorder
}

// Request is one inbound user message.
type Request struct {
	Principal      rbac.Principal
	ConversationID string // empty mints a new conversation
	UserMessage    string
	Preference     protocol.AgentType // optional client preference
	Emitter        agent.Emitter
}

// Result is the finished turn and the conversation it belongs to. The
// conversation id differs from the request's when a new conversation
// was minted.
type Result struct {
	ConversationID string
	Turn           *protocol.Turn
}

// supervisorAgent labels merged multi-agent turns in metrics.
const supervisorAgent = "supervisor"

const supervisorPrompt = `You are the supervisor for a team of specialist assistants at an entertainment production company. You receive one user question and the answers each specialist produced independently. Merge them into a single coherent response. Keep each specialist's distinct findings and attribute them using their bracketed labels, resolve contradictions explicitly, and do not add information no specialist provided. A specialist marked unavailable contributed nothing; note that briefly only when it matters to the answer.`

const classifierPrompt = `Route the user's question to the right specialists for an entertainment production company. The specialists are:
- sales: deals, clients, accounts, who sourced or sold what, agency relationships
- talent: directors, writers, crew, filmographies, who worked on which projects
- analytics: cross-cutting analysis, comparisons, trends, viability assessments
Reply with JSON only: {"agents":[...],"confidence":0.0-1.0}. List at most three specialists, most relevant first. Name more than one only when the question genuinely spans domains.`

const summaryPrompt = `Summarize the conversation in at most 120 words for an assistant that will continue it. Keep names, projects, deals, numbers and decisions; drop greetings and filler. Write in the third person.`

// Orchestrator classifies, dispatches and supervises turns.
type Orchestrator struct {
	agents map[protocol.AgentType]Runner
	deps   Deps
	cfg    config.OrchestratorConfig

	serial *keyedMutex

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	now   func() time.Time
	newID func() string
}

// New builds an orchestrator over the given agents.
func New(runners []Runner, deps Deps, cfg config.OrchestratorConfig) (*Orchestrator, error) {
	if len(runners) == 0 {
		return nil, protocol.Errorf(protocol.KindValidation, "orchestrator.new", "no agents registered")
	}
	if deps.Router == nil || deps.Conversations == nil || deps.Checkpoints == nil || deps.Queue == nil {
		return nil, protocol.Errorf(protocol.KindValidation, "orchestrator.new", "orchestrator is missing a collaborator")
	}
	if deps.Recorder == nil {
		deps.Recorder = observability.NopRecorder{}
	}
	agents := make(map[protocol.AgentType]Runner, len(runners))
	for _, r := range runners {
		t := r.Type()
		if t == "" {
			return nil, protocol.Errorf(protocol.KindValidation, "orchestrator.new", "agent with empty type")
		}
		if _, dup := agents[t]; dup {
			return nil, protocol.Errorf(protocol.KindValidation, "orchestrator.new", "duplicate agent type %s", t)
		}
		agents[t] = r
	}
	return &Orchestrator{
		agents:   agents,
		deps:     deps,
		cfg:      cfg,
		serial:   newKeyedMutex(),
		inflight: make(map[string]context.CancelFunc),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Handle runs one user message end to end: classify, serialize on the
// conversation, append the user turn, dispatch, and summarize on the
// configured interval. Dispatch for the same conversation is strictly
// ordered; concurrent calls for different conversations proceed in
// parallel.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	message := strings.TrimSpace(req.UserMessage)
	if req.Principal.ID == "" {
		return nil, protocol.Errorf(protocol.KindValidation, "orchestrator.handle", "request has no principal")
	}
	if message == "" {
		return nil, protocol.Errorf(protocol.KindValidation, "orchestrator.handle", "empty user message")
	}
	emit := req.Emitter
	if emit == nil {
		emit = agent.NopEmitter{}
	}

	tracer := observability.Tracer("greenroom.orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.handle",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)),
	)
	defer span.End()

	decision := o.decide(ctx, req.Principal, message, req.Preference)

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = o.newID()
	}
	o.serial.lock(conversationID)
	defer o.serial.unlock(conversationID)

	// The turn's cancellation scope. Cancel cascades through this
	// context to agents, tools and provider streams.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(conversationID, cancel)
	defer o.untrack(conversationID)

	conv, _, err := o.deps.Conversations.GetOrCreate(ctx, conversationID, req.Principal.ID, decision.Primary())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if decision.Source == SourceDefault {
		if _, ok := o.agents[conv.Affinity]; ok {
			decision = Decision{Agents: []protocol.AgentType{conv.Affinity}, Source: SourceAffinity}
		}
	}
	span.SetAttributes(
		attribute.String("orchestrator.source", decision.Source),
		attribute.String("orchestrator.agents", joinTypes(decision.Agents)),
	)

	conv, err = o.deps.Conversations.Append(ctx, conv.ID, req.Principal.ID, protocol.Turn{
		Role:    protocol.RoleUser,
		Content: message,
		Status:  protocol.TurnComplete,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var turn *protocol.Turn
	if decision.Multi() {
		turn, err = o.dispatchMulti(ctx, conv.ID, req.Principal, message, decision.Agents, emit, start)
	} else {
		turn, err = o.dispatchSingle(ctx, conv.ID, req.Principal, message, decision.Primary(), emit)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// conv counts through the user turn; the assistant turn is one more.
	o.maybeSummarize(ctx, conv.ID, req.Principal, conv.TurnCount+1)

	span.SetStatus(codes.Ok, "")
	return &Result{ConversationID: conv.ID, Turn: turn}, nil
}

// Cancel aborts the conversation's in-flight turn, if any, and reports
// whether one was running.
func (o *Orchestrator) Cancel(conversationID string) bool {
	o.mu.Lock()
	cancel, ok := o.inflight[conversationID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// decide picks the agents for a message. An explicit client preference
// wins outright; otherwise the rule classifier runs, and when its
// confidence is below the configured threshold the LLM classifier gets
// a vote, with the rule result kept on ties or classifier failure.
func (o *Orchestrator) decide(ctx context.Context, p rbac.Principal, message string, pref protocol.AgentType) Decision {
	if _, ok := o.agents[pref]; ok && pref != "" {
		return Decision{Agents: []protocol.AgentType{pref}, Confidence: 1, Source: SourcePreference}
	}
	decision := Classify(message)
	if decision.Source == SourceRule && decision.Confidence >= o.cfg.RuleConfidence {
		return o.bound(decision)
	}
	llmDec, err := o.llmClassify(ctx, p, message)
	switch {
	case err != nil:
		slog.Debug("orchestrator: llm classifier unavailable, keeping rule result", "error", err)
	case llmDec.Confidence > decision.Confidence:
		decision = llmDec
	}
	return o.bound(decision)
}

// bound drops unknown agent types, dedupes, and caps the fan-out.
func (o *Orchestrator) bound(d Decision) Decision {
	seen := make(map[protocol.AgentType]bool, len(d.Agents))
	kept := make([]protocol.AgentType, 0, len(d.Agents))
	for _, agentType := range d.Agents {
		if seen[agentType] {
			continue
		}
		if _, ok := o.agents[agentType]; !ok {
			continue
		}
		seen[agentType] = true
		kept = append(kept, agentType)
		if len(kept) == o.agentFanout() {
			break
		}
	}
	if len(kept) == 0 {
		kept = append(kept, o.fallbackAgent())
	}
	d.Agents = kept
	return d
}

func (o *Orchestrator) fallbackAgent() protocol.AgentType {
	if _, ok := o.agents[protocol.AgentAnalytics]; ok {
		return protocol.AgentAnalytics
	}
	var fallback protocol.AgentType
	for agentType := range o.agents {
		if fallback == "" || agentType < fallback {
			fallback = agentType
		}
	}
	return fallback
}

// llmClassify asks the router for a routing decision when the rules
// are unsure.
func (o *Orchestrator) llmClassify(ctx context.Context, p rbac.Principal, message string) (Decision, error) {
	res, err := o.deps.Router.Complete(ctx,
		llm.Request{
			System:    classifierPrompt,
			Messages:  []llm.Message{{Role: protocol.RoleUser, Content: message}},
			MaxTokens: 128,
		},
		llm.CallOptions{Principal: &p, Complexity: llm.ComplexitySimple},
	)
	if err != nil {
		return Decision{}, err
	}
	var out struct {
		Agents     []string `json:"agents"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(jsonBody(res.Content)), &out); err != nil {
		return Decision{}, protocol.E(protocol.KindDataIntegrity, "orchestrator.classify", err)
	}
	agents := make([]protocol.AgentType, 0, len(out.Agents))
	for _, s := range out.Agents {
		if agentType, ok := protocol.ParseAgentType(s); ok {
			agents = append(agents, agentType)
		}
	}
	if len(agents) == 0 {
		return Decision{}, protocol.Errorf(protocol.KindDataIntegrity, "orchestrator.classify",
			"no recognizable agents in %q", res.Content)
	}
	return Decision{
		Agents:     agents,
		Confidence: min(max(out.Confidence, 0), 1),
		Source:     SourceLLM,
	}, nil
}

func (o *Orchestrator) dispatchSingle(ctx context.Context, conversationID string, p rbac.Principal, message string, agentType protocol.AgentType, emit agent.Emitter) (*protocol.Turn, error) {
	return o.agents[agentType].Run(ctx, agent.Request{
		Principal:      p,
		ConversationID: conversationID,
		UserMessage:    message,
		Emitter:        emit,
	})
}

// contribution is one agent's draft in a multi-agent turn.
type contribution struct {
	agentType protocol.AgentType
	turn      *protocol.Turn
	err       error
}

func (c contribution) ok() bool {
	return c.err == nil && c.turn != nil &&
		c.turn.Status == protocol.TurnComplete && strings.TrimSpace(c.turn.Content) != ""
}

// dispatchMulti runs the agents detached in parallel, merges their
// drafts through the supervisor call, and persists the merged turn.
// Agents that miss the fan-out timeout or fail are labeled unavailable;
// the turn fails only when no agent contributed.
func (o *Orchestrator) dispatchMulti(ctx context.Context, conversationID string, p rbac.Principal, message string, agents []protocol.AgentType, emit agent.Emitter, start time.Time) (*protocol.Turn, error) {
	emit.Status(agent.StatusThinking, "consulting "+joinTypes(agents))

	fanCtx, cancelFan := context.WithTimeout(ctx, o.multiTimeout())
	defer cancelFan()

	contribs := make([]contribution, len(agents))
	var g errgroup.Group
	for i, agentType := range agents {
		g.Go(func() error {
			turn, err := o.agents[agentType].Draft(fanCtx, agent.Request{
				Principal:      p,
				ConversationID: conversationID,
				UserMessage:    message,
			})
			contribs[i] = contribution{agentType: agentType, turn: turn, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return o.cancelledMulti(ctx, conversationID, p, contribs, start)
	}

	var firstErr error
	anyOK := false
	for _, c := range contribs {
		if c.ok() {
			anyOK = true
		} else if c.err != nil && firstErr == nil {
			firstErr = c.err
		}
	}
	if !anyOK {
		if firstErr == nil {
			firstErr = protocol.Errorf(protocol.KindInternal, "orchestrator.dispatch", "no agent produced a contribution")
		}
		slog.Error("orchestrator: multi-agent dispatch failed",
			"conversation_id", conversationID, "agents", joinTypes(agents), "error", firstErr)
		o.recordFailed(ctx, conversationID, p, firstErr)
		o.deps.Recorder.RecordAgentTurn(ctx, supervisorAgent, o.now().Sub(start), 0, firstErr)
		return nil, firstErr
	}

	content, usage, provider, model := o.merge(ctx, p, message, contribs)

	var calls []protocol.ToolCall
	var results []protocol.ToolResult
	for _, c := range contribs {
		if c.ok() {
			calls = append(calls, c.turn.ToolCalls...)
			results = append(results, c.turn.Results...)
		}
	}

	turn := protocol.Turn{
		ID:        o.newID(),
		Role:      protocol.RoleAssistant,
		Content:   content,
		Status:    protocol.TurnComplete,
		ToolCalls: calls,
		Results:   results,
		Provider:  provider,
		Model:     model,
		AgentType: agents[0],
	}
	if usage != (protocol.Usage{}) {
		u := usage
		turn.Usage = &u
	}
	emit.Delta(content)

	if _, err := o.deps.Conversations.Append(ctx, conversationID, p.ID, turn); err != nil {
		slog.Error("orchestrator: merged turn not persisted",
			"conversation_id", conversationID, "error", err)
		o.deps.Recorder.RecordAgentTurn(ctx, supervisorAgent, o.now().Sub(start), usage.TotalTokens, err)
		return nil, err
	}
	o.checkpointTurn(ctx, conversationID, p, message, turn)
	o.enqueueExtraction(ctx, conversationID, p.ID, turn.ID, message, content)
	o.deps.Recorder.RecordAgentTurn(ctx, supervisorAgent, o.now().Sub(start), usage.TotalTokens, nil)
	return &turn, nil
}

// merge asks the supervisor model to synthesize the contributions. On
// supervisor failure the labeled contributions are returned as-is so
// good agent answers survive a broken merge call.
func (o *Orchestrator) merge(ctx context.Context, p rbac.Principal, question string, contribs []contribution) (string, protocol.Usage, string, string) {
	var usage protocol.Usage
	var fallbackProvider, fallbackModel string
	blocks := make([]string, 0, len(contribs))
	for _, c := range contribs {
		label := "[" + string(c.agentType) + "]"
		if !c.ok() {
			blocks = append(blocks, label+"\nunavailable")
			continue
		}
		blocks = append(blocks, label+"\n"+strings.TrimSpace(c.turn.Content))
		if c.turn.Usage != nil {
			usage.Add(*c.turn.Usage)
		}
		if fallbackProvider == "" {
			fallbackProvider, fallbackModel = c.turn.Provider, c.turn.Model
		}
	}
	combined := strings.Join(blocks, "\n\n")

	res, err := o.deps.Router.Complete(ctx,
		llm.Request{
			System: supervisorPrompt,
			Messages: []llm.Message{{
				Role:    protocol.RoleUser,
				Content: "Question:\n" + question + "\n\nSpecialist answers:\n\n" + combined,
			}},
		},
		llm.CallOptions{Principal: &p, Complexity: llm.ComplexityModerate},
	)
	if err != nil {
		slog.Warn("orchestrator: supervisor merge failed, returning labeled contributions", "error", err)
		return combined, usage, fallbackProvider, fallbackModel
	}
	usage.Add(res.Usage)
	merged := strings.TrimSpace(res.Content)
	if merged == "" {
		return combined, usage, res.Provider, res.Model
	}
	return merged, usage, res.Provider, res.Model
}

// cancelledMulti finalizes a cut-off fan-out: whatever completed is
// kept under its label, the turn is recorded cancelled, and no error
// is returned.
func (o *Orchestrator) cancelledMulti(ctx context.Context, conversationID string, p rbac.Principal, contribs []contribution, start time.Time) (*protocol.Turn, error) {
	var usage protocol.Usage
	blocks := make([]string, 0, len(contribs))
	for _, c := range contribs {
		if !c.ok() {
			continue
		}
		blocks = append(blocks, "["+string(c.agentType)+"]\n"+strings.TrimSpace(c.turn.Content))
		if c.turn.Usage != nil {
			usage.Add(*c.turn.Usage)
		}
	}
	turn := protocol.Turn{
		ID:        o.newID(),
		Role:      protocol.RoleAssistant,
		Content:   strings.Join(blocks, "\n\n"),
		Status:    protocol.TurnCancelled,
		AgentType: contribs[0].agentType,
	}
	if usage != (protocol.Usage{}) {
		u := usage
		turn.Usage = &u
	}
	pctx := context.WithoutCancel(ctx)
	if _, err := o.deps.Conversations.Append(pctx, conversationID, p.ID, turn); err != nil {
		slog.Warn("orchestrator: cancelled turn not recorded",
			"conversation_id", conversationID, "error", err)
	}
	o.deps.Recorder.RecordAgentTurn(pctx, supervisorAgent, o.now().Sub(start), usage.TotalTokens, context.Canceled)
	return &turn, nil
}

// recordFailed appends a failed turn carrying only the generic user
// message.
func (o *Orchestrator) recordFailed(ctx context.Context, conversationID string, p rbac.Principal, cause error) {
	failed := protocol.Turn{
		ID:      o.newID(),
		Role:    protocol.RoleAssistant,
		Content: protocol.UserMessage(cause),
		Status:  protocol.TurnFailed,
	}
	pctx := context.WithoutCancel(ctx)
	if _, err := o.deps.Conversations.Append(pctx, conversationID, p.ID, failed); err != nil {
		slog.Warn("orchestrator: failed turn not recorded",
			"conversation_id", conversationID, "error", err)
	}
}

// checkpointTurn records the merged turn at the conversation's next
// checkpoint step. The turn is already durable; failure here only
// costs resumability.
func (o *Orchestrator) checkpointTurn(ctx context.Context, conversationID string, p rbac.Principal, message string, turn protocol.Turn) {
	st := agent.State{
		ConversationID: conversationID,
		Principal:      p,
		AgentType:      turn.AgentType,
		UserMessage:    message,
		Calls:          turn.ToolCalls,
		Results:        turn.Results,
		Content:        turn.Content,
		Provider:       turn.Provider,
		Model:          turn.Model,
	}
	if turn.Usage != nil {
		st.Usage = *turn.Usage
	}
	step := 0
	latest, err := o.deps.Checkpoints.Latest(ctx, conversationID)
	switch {
	case err == nil:
		step = latest.Step
	case errors.Is(err, kv.ErrNotFound):
	default:
		slog.Warn("orchestrator: checkpoint cursor unavailable",
			"conversation_id", conversationID, "error", err)
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		slog.Warn("orchestrator: merged turn state not serializable",
			"conversation_id", conversationID, "error", err)
		return
	}
	err = o.deps.Checkpoints.Save(ctx, checkpoint.Checkpoint{
		ConversationID: conversationID,
		Step:           step + 1,
		Node:           agent.NodePersist,
		State:          payload,
	})
	if err != nil {
		slog.Warn("orchestrator: merged turn checkpoint not written",
			"conversation_id", conversationID, "error", err)
	}
}

func (o *Orchestrator) enqueueExtraction(ctx context.Context, conversationID, userID, turnID, message, content string) {
	_, err := o.deps.Queue.Enqueue(ctx, memory.Task{
		Kind:           memory.TaskExtract,
		UserID:         userID,
		ConversationID: conversationID,
		TurnID:         turnID,
		Window:         "User: " + message + "\n\nAssistant: " + content,
		Priority:       memory.PriorityNormal,
	})
	if err != nil {
		slog.Warn("orchestrator: extraction not enqueued",
			"conversation_id", conversationID, "turn_id", turnID, "error", err)
	}
}

// maybeSummarize refreshes the stored conversation summary every
// SummaryInterval turns; initialize injects it for long conversations.
func (o *Orchestrator) maybeSummarize(ctx context.Context, conversationID string, p rbac.Principal, turnCount int) {
	interval := o.cfg.SummaryInterval
	if interval <= 0 || turnCount < interval || turnCount%interval != 0 {
		return
	}
	turns, err := o.deps.Conversations.Recent(ctx, conversationID, 2*interval)
	if err != nil {
		slog.Warn("orchestrator: summary window unavailable",
			"conversation_id", conversationID, "error", err)
		return
	}
	transcript := renderTranscript(turns)
	if transcript == "" {
		return
	}
	res, err := o.deps.Router.Complete(ctx,
		llm.Request{
			System:   summaryPrompt,
			Messages: []llm.Message{{Role: protocol.RoleUser, Content: transcript}},
		},
		llm.CallOptions{Principal: &p, Complexity: llm.ComplexitySimple},
	)
	if err != nil {
		slog.Warn("orchestrator: summary refresh failed",
			"conversation_id", conversationID, "error", err)
		return
	}
	summary := strings.TrimSpace(res.Content)
	if summary == "" {
		return
	}
	if err := o.deps.Conversations.SetSummary(ctx, conversationID, p.ID, summary); err != nil {
		slog.Warn("orchestrator: summary not stored",
			"conversation_id", conversationID, "error", err)
	}
}

func renderTranscript(turns []protocol.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Status == protocol.TurnFailed || t.Content == "" {
			continue
		}
		switch t.Role {
		case protocol.RoleUser:
			lines = append(lines, "User: "+t.Content)
		case protocol.RoleAssistant:
			lines = append(lines, "Assistant: "+t.Content)
		}
	}
	return strings.Join(lines, "\n")
}

func (o *Orchestrator) track(conversationID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.inflight[conversationID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(conversationID string) {
	o.mu.Lock()
	delete(o.inflight, conversationID)
	o.mu.Unlock()
}

func (o *Orchestrator) agentFanout() int {
	if o.cfg.AgentFanout < 1 {
		return 1
	}
	return o.cfg.AgentFanout
}

func (o *Orchestrator) multiTimeout() time.Duration {
	if o.cfg.MultiAgentTimeout <= 0 {
		return time.Minute
	}
	return o.cfg.MultiAgentTimeout
}

func joinTypes(agents []protocol.AgentType) string {
	names := make([]string, len(agents))
	for i, agentType := range agents {
		names[i] = string(agentType)
	}
	return strings.Join(names, ", ")
}

// jsonBody strips any prose or fencing around the first JSON object.
func jsonBody(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// keyedMutex serializes work per key without holding memory for idle
// keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}
