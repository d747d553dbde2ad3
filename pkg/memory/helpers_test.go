package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/observability"
)

// fakeGraph records every query and answers through respond.
type fakeGraph struct {
	mu      sync.Mutex
	queries []graph.Query
	respond func(q graph.Query) ([]graph.Record, error)
}

func (f *fakeGraph) Run(ctx context.Context, q graph.Query) ([]graph.Record, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(q)
}

func (f *fakeGraph) recorded() []graph.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]graph.Query(nil), f.queries...)
}

// byFragment returns the recorded queries whose Cypher contains the
// fragment.
func (f *fakeGraph) byFragment(fragment string) []graph.Query {
	var out []graph.Query
	for _, q := range f.recorded() {
		if strings.Contains(q.Cypher, fragment) {
			out = append(out, q)
		}
	}
	return out
}

type fakeEmbedder struct {
	mu         sync.Mutex
	vec        []float32
	err        error
	embeds     []string
	batchCalls int
}

func (f *fakeEmbedder) vector() []float32 {
	if f.vec != nil {
		return f.vec
	}
	return []float32{0.5, 0.25}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeds = append(f.embeds, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.embeds = append(f.embeds, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector()
	}
	return out, nil
}

func (f *fakeEmbedder) embedded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.embeds...)
}

type fakeCompleter struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request, opts llm.CallOptions) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{
		Response: llm.Response{Content: f.content},
		Provider: "primary",
		Model:    "test-model",
	}, nil
}

func (f *fakeCompleter) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

type taskRecorder struct {
	observability.NopRecorder
	mu       sync.Mutex
	outcomes []string
}

func (r *taskRecorder) RecordMemoryTask(ctx context.Context, kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind+":"+outcome)
}

func (r *taskRecorder) count(entry string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes {
		if o == entry {
			n++
		}
	}
	return n
}

var frozenNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testManager(t *testing.T, g GraphStore, e Embedder) (*Manager, kv.Store) {
	t.Helper()
	var cfg config.MemoryConfig
	cfg.SetDefaults()
	store := kv.NewMemoryStore()
	m := NewManager(cfg, g, e, store, nil)
	m.now = func() time.Time { return frozenNow }
	var seq int
	m.newID = func() string {
		seq++
		return fmt.Sprintf("mem-%d", seq)
	}
	return m, store
}
