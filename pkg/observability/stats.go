package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// statsWindow caps how many latency samples each component retains for
// percentile estimates.
const statsWindow = 512

// Component names used in snapshots and performance keys.
const (
	ComponentLLM    = "llm"
	ComponentTools  = "tools"
	ComponentAgents = "agents"
)

// Stats decorates a Recorder with the in-process counters the alert
// evaluator reads. Counts are cumulative; latency percentiles come from
// a bounded ring of recent samples.
type Stats struct {
	next Recorder

	mu         sync.Mutex
	components map[string]*componentWindow
}

type componentWindow struct {
	requests  int64
	errors    int64
	latencies []time.Duration
	at        int
	full      bool
}

// NewStats wraps next, forwarding every measurement.
func NewStats(next Recorder) *Stats {
	if next == nil {
		next = NopRecorder{}
	}
	return &Stats{next: next, components: make(map[string]*componentWindow)}
}

func (s *Stats) observe(name string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.components[name]
	if w == nil {
		w = &componentWindow{latencies: make([]time.Duration, statsWindow)}
		s.components[name] = w
	}
	w.requests++
	if err != nil {
		w.errors++
	}
	w.latencies[w.at] = duration
	w.at++
	if w.at == len(w.latencies) {
		w.at = 0
		w.full = true
	}
}

// Snapshot copies the current per-component stats.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(Snapshot, len(s.components))
	for name, w := range s.components {
		n := w.at
		if w.full {
			n = len(w.latencies)
		}
		sorted := make([]time.Duration, n)
		copy(sorted, w.latencies[:n])
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var p95 time.Duration
		if n > 0 {
			idx := n * 95 / 100
			if idx >= n {
				idx = n - 1
			}
			p95 = sorted[idx]
		}
		snap[name] = ComponentStats{Requests: w.requests, Errors: w.errors, LatencyP95: p95}
	}
	return snap
}

func (s *Stats) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, promptTokens, completionTokens int, err error) {
	s.observe(ComponentLLM, duration, err)
	s.next.RecordLLMCall(ctx, provider, model, duration, promptTokens, completionTokens, err)
}

func (s *Stats) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	s.observe(ComponentTools, duration, err)
	s.next.RecordToolCall(ctx, tool, duration, err)
}

func (s *Stats) RecordAgentTurn(ctx context.Context, agentType string, duration time.Duration, tokens int, err error) {
	s.observe(ComponentAgents, duration, err)
	s.next.RecordAgentTurn(ctx, agentType, duration, tokens, err)
}

func (s *Stats) RecordMemoryTask(ctx context.Context, kind, outcome string) {
	s.next.RecordMemoryTask(ctx, kind, outcome)
}

func (s *Stats) RecordSessionOpen(ctx context.Context) {
	s.next.RecordSessionOpen(ctx)
}

func (s *Stats) RecordSessionClose(ctx context.Context, reason string) {
	s.next.RecordSessionClose(ctx, reason)
}

func (s *Stats) RecordFrame(ctx context.Context, frameType string) {
	s.next.RecordFrame(ctx, frameType)
}
