package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// RoleUsage is the cumulative accounting for one provider role.
type RoleUsage struct {
	Requests         int64   `json:"requests"`
	Failures         int64   `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostEstimate     float64 `json:"cost_estimate"`
}

// usageSample is one routed call, appended to the capped performance
// list for the serving role.
type usageSample struct {
	Timestamp        time.Time `json:"ts"`
	Model            string    `json:"model"`
	Status           string    `json:"status"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostEstimate     float64   `json:"cost_estimate"`
	LatencyMS        int64     `json:"latency_ms"`
}

// usageBook accumulates per-role counters in process and persists one
// sample per call to kv. Persistence is best effort; accounting never
// fails a request.
type usageBook struct {
	mu     sync.Mutex
	store  kv.Store
	costs  map[string]config.ModelCost
	byRole map[string]*RoleUsage
	now    func() time.Time
}

func newUsageBook(store kv.Store, costs map[string]config.ModelCost) *usageBook {
	return &usageBook{
		store:  store,
		costs:  costs,
		byRole: make(map[string]*RoleUsage),
		now:    time.Now,
	}
}

// cost estimates the dollar cost of a call from the per-1K-token table.
// Unknown models cost zero.
func (b *usageBook) cost(model string, u protocol.Usage) float64 {
	c, ok := b.costs[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*c.PromptPer1K +
		float64(u.CompletionTokens)/1000*c.CompletionPer1K
}

// record books one call against a role and returns its cost estimate.
func (b *usageBook) record(ctx context.Context, role, model string, u protocol.Usage, latency time.Duration, failed bool) float64 {
	cost := b.cost(model, u)

	b.mu.Lock()
	ru, ok := b.byRole[role]
	if !ok {
		ru = &RoleUsage{}
		b.byRole[role] = ru
	}
	ru.Requests++
	if failed {
		ru.Failures++
	}
	ru.PromptTokens += int64(u.PromptTokens)
	ru.CompletionTokens += int64(u.CompletionTokens)
	ru.CostEstimate += cost
	b.mu.Unlock()

	if b.store != nil {
		status := protocol.ToolStatusOK
		if failed {
			status = protocol.ToolStatusError
		}
		sample := usageSample{
			Timestamp:        b.now().UTC(),
			Model:            model,
			Status:           status,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			CostEstimate:     cost,
			LatencyMS:        latency.Milliseconds(),
		}
		if raw, err := json.Marshal(sample); err == nil {
			if err := kv.PushCapped(ctx, b.store, kv.MetricsKey("llm_"+role), string(raw), kv.MetricsListMax); err != nil {
				slog.Warn("usage sample write failed", "role", role, "error", err)
			}
		}
	}
	return cost
}

// Snapshot copies the cumulative counters for all roles.
func (b *usageBook) Snapshot() map[string]RoleUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]RoleUsage, len(b.byRole))
	for role, ru := range b.byRole {
		out[role] = *ru
	}
	return out
}
