package llm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

func TestUsageBookRecordsAndPersists(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	costs := map[string]config.ModelCost{
		"llama-3.1-8b-instant": {PromptPer1K: 0.5, CompletionPer1K: 1.0},
	}
	book := newUsageBook(store, costs)

	cost := book.record(ctx, "primary", "llama-3.1-8b-instant",
		protocol.Usage{PromptTokens: 2000, CompletionTokens: 1000, TotalTokens: 3000},
		120*time.Millisecond, false)
	assert.InDelta(t, 2.0, cost, 1e-9)

	book.record(ctx, "primary", "llama-3.1-8b-instant", protocol.Usage{}, 0, true)

	snap := book.Snapshot()
	ru := snap["primary"]
	assert.EqualValues(t, 2, ru.Requests)
	assert.EqualValues(t, 1, ru.Failures)
	assert.EqualValues(t, 2000, ru.PromptTokens)
	assert.EqualValues(t, 1000, ru.CompletionTokens)
	assert.InDelta(t, 2.0, ru.CostEstimate, 1e-9)

	entries, err := store.LRange(ctx, kv.MetricsKey("llm_primary"), 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var failed usageSample
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &failed))
	assert.Equal(t, protocol.ToolStatusError, failed.Status)

	var ok usageSample
	require.NoError(t, json.Unmarshal([]byte(entries[1]), &ok))
	assert.Equal(t, "llama-3.1-8b-instant", ok.Model)
	assert.Equal(t, protocol.ToolStatusOK, ok.Status)
	assert.InDelta(t, 2.0, ok.CostEstimate, 1e-9)
	assert.EqualValues(t, 120, ok.LatencyMS)
}

func TestUsageBookUnknownModelCostsZero(t *testing.T) {
	book := newUsageBook(nil, nil)
	cost := book.record(context.Background(), "secondary", "mystery-model",
		protocol.Usage{PromptTokens: 100}, 0, false)
	assert.Zero(t, cost)
	assert.EqualValues(t, 1, book.Snapshot()["secondary"].Requests)
}
