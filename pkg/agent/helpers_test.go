package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

var frozenNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedTurn is one model response the fake router plays back.
// Pieces stream as separate text chunks; err replaces the terminal
// Done chunk.
type scriptedTurn struct {
	pieces []string
	calls  []protocol.ToolCall
	err    error
	usage  *protocol.Usage
}

type fakeRouter struct {
	mu      sync.Mutex
	script  []scriptedTurn
	openErr error
	reqs    []llm.Request
	opts    []llm.CallOptions
}

func (f *fakeRouter) Stream(_ context.Context, req llm.Request, opts llm.CallOptions) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.opts = append(f.opts, opts)
	if f.openErr != nil {
		err := f.openErr
		f.mu.Unlock()
		return nil, err
	}
	turn := scriptedTurn{pieces: []string{"unscripted reply"}}
	if len(f.script) > 0 {
		turn = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	ch := make(chan llm.Chunk, len(turn.pieces)+2)
	for _, piece := range turn.pieces {
		ch <- llm.Chunk{Text: piece}
	}
	if turn.err != nil {
		ch <- llm.Chunk{Err: turn.err}
		close(ch)
		return ch, nil
	}
	if len(turn.calls) > 0 {
		ch <- llm.Chunk{ToolCalls: turn.calls}
	}
	usage := turn.usage
	if usage == nil {
		usage = &protocol.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	}
	ch <- llm.Chunk{Done: true, Usage: usage, Provider: "primary", Model: "test-model"}
	close(ch)
	return ch, nil
}

func (f *fakeRouter) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

func (f *fakeRouter) options() []llm.CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CallOptions(nil), f.opts...)
}

type fakeToolbox struct {
	mu          sync.Mutex
	set         []tools.Tool
	results     map[string]protocol.ToolResult
	executed    []protocol.ToolCall
	delay       time.Duration
	inflight    int
	maxInflight int
}

func (f *fakeToolbox) Visible(_ context.Context, p rbac.Principal, allow []string) []tools.Tool {
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}
	var out []tools.Tool
	for _, t := range f.set {
		if allow != nil && !allowed[t.Name] {
			continue
		}
		if !p.Role.AtLeast(t.MinRole) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (f *fakeToolbox) Get(name string) (tools.Tool, bool) {
	for _, t := range f.set {
		if t.Name == name {
			return t, true
		}
	}
	return tools.Tool{}, false
}

func (f *fakeToolbox) Execute(_ context.Context, _ rbac.Principal, call protocol.ToolCall) protocol.ToolResult {
	f.mu.Lock()
	f.executed = append(f.executed, call)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	f.inflight--
	res, ok := f.results[call.Name]
	f.mu.Unlock()
	if !ok {
		res = protocol.ToolResult{
			Name:   call.Name,
			Status: protocol.ToolStatusOK,
			Found:  true,
			Data:   map[string]any{"id": call.Name},
		}
	}
	return res
}

func (f *fakeToolbox) executedCalls() []protocol.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ToolCall(nil), f.executed...)
}

type memorySearch struct {
	userID  string
	query   string
	k       int
	weights map[memory.ItemType]float64
}

type fakeMemories struct {
	mu        sync.Mutex
	items     []memory.Item
	cached    map[string]string
	stored    map[string]string
	searches  []memorySearch
	searchErr error
}

func (f *fakeMemories) Search(_ context.Context, userID, query string, k int, weights map[memory.ItemType]float64) ([]memory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, memorySearch{userID: userID, query: query, k: k, weights: weights})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.items, nil
}

func (f *fakeMemories) CachedContext(_ context.Context, threadID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rendered, ok := f.cached[threadID]
	return rendered, ok, nil
}

func (f *fakeMemories) CacheContext(_ context.Context, threadID, rendered string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[threadID] = rendered
	return nil
}

type fakeTranscript struct {
	mu    sync.Mutex
	convs map[string]protocol.Conversation
	turns map[string][]protocol.Turn
	seq   int
}

func newFakeTranscript() *fakeTranscript {
	return &fakeTranscript{
		convs: make(map[string]protocol.Conversation),
		turns: make(map[string][]protocol.Turn),
	}
}

func (f *fakeTranscript) seed(conversationID, userID string, turns ...protocol.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[conversationID] = protocol.Conversation{
		ID:        conversationID,
		UserID:    userID,
		CreatedAt: frozenNow,
		UpdatedAt: frozenNow,
	}
	f.turns[conversationID] = append(f.turns[conversationID], turns...)
}

func (f *fakeTranscript) setSummary(conversationID, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := f.convs[conversationID]
	conv.Summary = summary
	f.convs[conversationID] = conv
}

func (f *fakeTranscript) Get(_ context.Context, conversationID string) (*protocol.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[conversationID]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return &conv, nil
}

func (f *fakeTranscript) Recent(_ context.Context, conversationID string, n int) ([]protocol.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns := f.turns[conversationID]
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]protocol.Turn(nil), turns...), nil
}

func (f *fakeTranscript) Append(_ context.Context, conversationID, userID string, turns ...protocol.Turn) (*protocol.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[conversationID]
	if !ok {
		return nil, kv.ErrNotFound
	}
	if conv.UserID != userID {
		return nil, protocol.Errorf(protocol.KindForbidden, "conversation.append",
			"conversation %s belongs to another user", conversationID)
	}
	for _, turn := range turns {
		f.seq++
		if turn.ID == "" {
			turn.ID = fmt.Sprintf("t-%d", f.seq)
		}
		turn.Timestamp = frozenNow.Add(time.Duration(f.seq) * time.Millisecond)
		f.turns[conversationID] = append(f.turns[conversationID], turn)
	}
	conv.TurnCount = len(f.turns[conversationID])
	conv.UpdatedAt = frozenNow
	f.convs[conversationID] = conv
	return &conv, nil
}

func (f *fakeTranscript) all(conversationID string) []protocol.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Turn(nil), f.turns[conversationID]...)
}

type agentTurnRecord struct {
	agentType string
	tokens    int
	err       error
}

type turnRecorder struct {
	observability.NopRecorder
	mu    sync.Mutex
	turns []agentTurnRecord
}

func (r *turnRecorder) RecordAgentTurn(_ context.Context, agentType string, _ time.Duration, tokens int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, agentTurnRecord{agentType: agentType, tokens: tokens, err: err})
}

func (r *turnRecorder) recorded() []agentTurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agentTurnRecord(nil), r.turns...)
}

type captureEmitter struct {
	mu       sync.Mutex
	deltas   []string
	statuses []string
}

func (e *captureEmitter) Delta(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deltas = append(e.deltas, text)
}

func (e *captureEmitter) Status(state, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, state+": "+detail)
}

func (e *captureEmitter) allDeltas() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.deltas...)
}

func (e *captureEmitter) allStatuses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.statuses...)
}

type harness struct {
	router      *fakeRouter
	toolbox     *fakeToolbox
	memories    *fakeMemories
	transcript  *fakeTranscript
	checkpoints *checkpoint.Store
	queue       *memory.Queue
	recorder    *turnRecorder
	emitter     *captureEmitter
	agent       *Agent
}

func testCfg() config.AgentsConfig {
	return config.AgentsConfig{
		StepBudget:  6,
		ToolFanout:  4,
		ToolTimeout: time.Second,
		MemoryK:     5,
	}
}

func testPrincipal() rbac.Principal {
	return rbac.Principal{ID: "u1", Role: rbac.RoleSalesperson, DataAccessLevel: 3}
}

func newHarness(t *testing.T, variant Variant) *harness {
	return newHarnessCfg(t, variant, testCfg())
}

func newHarnessCfg(t *testing.T, variant Variant, cfg config.AgentsConfig) *harness {
	t.Helper()
	store := kv.NewMemoryStore()
	h := &harness{
		router:      &fakeRouter{},
		toolbox:     &fakeToolbox{results: make(map[string]protocol.ToolResult)},
		memories:    &fakeMemories{cached: make(map[string]string), stored: make(map[string]string)},
		transcript:  newFakeTranscript(),
		checkpoints: checkpoint.NewStore(store),
		queue:       memory.NewQueue(store),
		recorder:    &turnRecorder{},
		emitter:     &captureEmitter{},
	}
	for _, name := range variant.Tools {
		h.toolbox.set = append(h.toolbox.set, tools.Tool{Name: name, Description: name})
	}

	ag, err := New(variant, Deps{
		Router:      h.router,
		Tools:       h.toolbox,
		Memory:      h.memories,
		Transcript:  h.transcript,
		Checkpoints: h.checkpoints,
		Queue:       h.queue,
		Recorder:    h.recorder,
	}, cfg)
	require.NoError(t, err)
	ag.now = func() time.Time { return frozenNow }
	var seq int
	ag.newID = func() string {
		seq++
		return fmt.Sprintf("turn-%d", seq)
	}
	h.agent = ag
	return h
}

// seed creates conversation c1 for u1 with the user turn appended, the
// way the orchestrator leaves it before dispatch.
func (h *harness) seed(content string) {
	h.transcript.seed("c1", "u1", protocol.Turn{ID: "t-user", Role: protocol.RoleUser, Content: content})
}

func (h *harness) request(content string) Request {
	return Request{
		Principal:      testPrincipal(),
		ConversationID: "c1",
		UserMessage:    content,
		Emitter:        h.emitter,
	}
}
