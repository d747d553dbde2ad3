package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

func episodicRow(id string, importance float64, refs []string, vec []float32) graph.Record {
	emb := make([]any, len(vec))
	for i, v := range vec {
		emb[i] = float64(v)
	}
	anyRefs := make([]any, len(refs))
	for i, r := range refs {
		anyRefs[i] = r
	}
	return graph.Record{
		"id":               id,
		"content":          "note " + id,
		"summary":          "note " + id,
		"importance":       importance,
		"embedding":        emb,
		"source_turn_refs": anyRefs,
		"created_at":       "2026-02-01T00:00:00Z",
	}
}

// Three near-parallel vectors form a cohesive cluster; the fourth is
// orthogonal and must stay out.
var (
	vecA       = []float32{1, 0, 0}
	vecB       = []float32{0.99, 0.1, 0}
	vecC       = []float32{0.98, 0.15, 0}
	vecOutlier = []float32{0, 0, 1}
)

func consolidationGraph(rows []graph.Record) *fakeGraph {
	g := &fakeGraph{}
	g.respond = func(q graph.Query) ([]graph.Record, error) {
		if strings.Contains(q.Cypher, "MATCH (m:Memory {user_id: $user_id, type: $type})") {
			return rows, nil
		}
		return nil, nil
	}
	return g
}

func testConsolidator(t *testing.T, g *fakeGraph, router *fakeCompleter) (*Consolidator, kv.Store) {
	t.Helper()
	m, store := testManager(t, g, &fakeEmbedder{vec: []float32{0.5, 0.25}})
	return NewConsolidator(m.cfg, m, router, store), store
}

func TestConsolidateMergesCohesiveCluster(t *testing.T) {
	g := consolidationGraph([]graph.Record{
		episodicRow("ep-a", 0.4, []string{"conv-1/t2"}, vecA),
		episodicRow("ep-b", 0.9, []string{"conv-2/t5"}, vecB),
		episodicRow("ep-c", 0.6, []string{"conv-1/t2", "conv-3/t1"}, vecC),
		episodicRow("ep-far", 0.8, []string{"conv-4/t4"}, vecOutlier),
	})
	router := &fakeCompleter{
		content: `{"content":"Consistently favors practical effects over CG.","summary":"Prefers practical effects"}`,
	}
	con, store := testConsolidator(t, g, router)
	ctx := context.Background()

	merged, err := con.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	fetch := g.byFragment("MATCH (m:Memory {user_id: $user_id, type: $type})")
	require.Len(t, fetch, 1)
	assert.Equal(t, "episodic", fetch[0].Params["type"])

	writes := g.byFragment("MERGE")
	require.Len(t, writes, 1)
	wq := writes[0]
	assert.Equal(t, "semantic", wq.Params["type"])
	assert.Equal(t, "Consistently favors practical effects over CG.", wq.Params["content"])
	assert.Equal(t, "Prefers practical effects", wq.Params["summary"])
	// max importance of the sources, refs unioned and sorted
	assert.Equal(t, 0.9, wq.Params["importance"])
	assert.Equal(t, []string{"conv-1/t2", "conv-2/t5", "conv-3/t1"}, wq.Params["source_turn_refs"])

	supersedes := g.byFragment("m.superseded = true")
	require.Len(t, supersedes, 1)
	sq := supersedes[0]
	assert.Equal(t, []string{"ep-a", "ep-b", "ep-c"}, sq.Params["ids"])
	assert.Equal(t, "mem-1", sq.Params["new_id"])

	// the lock is released on the way out
	_, err = store.Get(ctx, kv.ConsolidationLockKey("u1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestConsolidateSkipsWhenLockHeld(t *testing.T) {
	g := &fakeGraph{}
	con, store := testConsolidator(t, g, &fakeCompleter{})
	ctx := context.Background()

	_, ok, err := kv.AcquireLock(ctx, store, kv.ConsolidationLockKey("u1"), con.cfg.LockTTL)
	require.NoError(t, err)
	require.True(t, ok)

	merged, err := con.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
	assert.Empty(t, g.recorded())
}

func TestConsolidateLeavesSmallClusters(t *testing.T) {
	g := consolidationGraph([]graph.Record{
		episodicRow("ep-a", 0.4, nil, vecA),
		episodicRow("ep-b", 0.9, nil, vecB),
	})
	router := &fakeCompleter{content: `{"content":"x","summary":"y"}`}
	con, _ := testConsolidator(t, g, router)

	merged, err := con.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
	assert.Empty(t, router.calls())
	assert.Empty(t, g.byFragment("MERGE"))
}

func TestConsolidateComposerGarbage(t *testing.T) {
	g := consolidationGraph([]graph.Record{
		episodicRow("ep-a", 0.4, nil, vecA),
		episodicRow("ep-b", 0.9, nil, vecB),
		episodicRow("ep-c", 0.6, nil, vecC),
	})
	router := &fakeCompleter{content: "no structured output today"}
	con, _ := testConsolidator(t, g, router)

	_, err := con.Run(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindDataIntegrity))
	assert.Empty(t, g.byFragment("m.superseded = true"))
}

func TestConsolidateRouterError(t *testing.T) {
	g := consolidationGraph([]graph.Record{
		episodicRow("ep-a", 0.4, nil, vecA),
		episodicRow("ep-b", 0.9, nil, vecB),
		episodicRow("ep-c", 0.6, nil, vecC),
	})
	boom := errors.New("both providers down")
	con, store := testConsolidator(t, g, &fakeCompleter{err: boom})
	ctx := context.Background()

	merged, err := con.Run(ctx, "u1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, merged)

	// the lock is released even on failure
	_, err = store.Get(ctx, kv.ConsolidationLockKey("u1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestConsolidateRequiresUser(t *testing.T) {
	con, _ := testConsolidator(t, &fakeGraph{}, &fakeCompleter{})
	_, err := con.Run(context.Background(), "")
	assert.True(t, protocol.IsKind(err, protocol.KindValidation))
}

func TestClustersCohesionGate(t *testing.T) {
	src := func(id string, vec []float32) clusterSource {
		return clusterSource{id: id, embedding: vec}
	}

	// each edge to the seed clears 0.85 but the far pair drags the mean
	// below it
	star := []clusterSource{
		src("seed", []float32{1, 0}),
		src("left", []float32{0.866, 0.5}),
		src("right", []float32{0.866, -0.5}),
	}
	assert.Empty(t, clusters(star, 0.85, 3))

	tight := []clusterSource{src("a", vecA), src("b", vecB), src("c", vecC)}
	got := clusters(tight, 0.85, 3)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 3)

	// minimum size applies even when cohesion is perfect
	pair := []clusterSource{src("a", vecA), src("b", vecA)}
	assert.Empty(t, clusters(pair, 0.85, 3))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, cosine(nil, nil))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{0, 0}))
}
