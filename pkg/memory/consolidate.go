package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

const consolidationPrompt = `You compact several overlapping memory notes about one user into a single
durable memory. Merge the notes into one coherent statement that keeps every
distinct fact and drops the repetition.

Return ONLY JSON: {"content": "...", "summary": "..."}`

const consolidationMaxTokens = 512

// Consolidator compacts cohesive clusters of a user's episodic items
// into single semantic items. A named lock in the key-value layer keeps
// runs for the same user from overlapping.
type Consolidator struct {
	manager *Manager
	router  Completer
	store   kv.Store
	cfg     config.MemoryConfig
}

// NewConsolidator builds a consolidator sharing the manager's graph and
// embedder.
func NewConsolidator(cfg config.MemoryConfig, manager *Manager, router Completer, store kv.Store) *Consolidator {
	return &Consolidator{manager: manager, router: router, store: store, cfg: cfg}
}

// clusterSource is one episodic item as the clustering pass sees it.
type clusterSource struct {
	id         string
	content    string
	summary    string
	importance float64
	refs       []string
	embedding  []float32
}

const episodicFetchCypher = `MATCH (m:Memory {user_id: $user_id, type: $type})
WHERE coalesce(m.superseded, false) = false
RETURN m.id AS id, m.content AS content, m.summary AS summary,
       m.importance AS importance, m.embedding AS embedding,
       m.source_turn_refs AS source_turn_refs, m.created_at AS created_at
ORDER BY m.created_at, m.id`

const supersedeCypher = `MATCH (m:Memory) WHERE m.id IN $ids
SET m.superseded = true, m.superseded_by = $new_id`

// Run consolidates one user's episodic memory and returns the number of
// clusters merged. When another run holds the user's lock it does
// nothing and returns 0.
func (c *Consolidator) Run(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, protocol.Errorf(protocol.KindValidation, "memory.consolidate",
			"a user id is required")
	}
	lock, ok, err := kv.AcquireLock(ctx, c.store, kv.ConsolidationLockKey(userID), c.cfg.LockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		slog.Debug("consolidation already running", "user_id", userID)
		return 0, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Debug("consolidation lock release failed", "user_id", userID, "error", err)
		}
	}()

	records, err := c.manager.graph.Run(ctx, graph.Query{
		Cypher:     episodicFetchCypher,
		Params:     map[string]any{"user_id": userID, "type": string(TypeEpisodic)},
		Idempotent: true,
	})
	if err != nil {
		return 0, err
	}
	sources := make([]clusterSource, 0, len(records))
	for _, rec := range records {
		sources = append(sources, clusterSource{
			id:         rec.String("id"),
			content:    rec.String("content"),
			summary:    rec.String("summary"),
			importance: rec.Float("importance"),
			refs:       rec.StringSlice("source_turn_refs"),
			embedding:  vectorFromRecord(rec, "embedding"),
		})
	}

	merged := 0
	for _, cluster := range clusters(sources, c.cfg.ConsolidationCohesion, c.cfg.ConsolidationMinCluster) {
		if err := c.merge(ctx, userID, cluster); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}

// merge writes one semantic item replacing the cluster and marks the
// sources superseded. Sources stay in the graph for audit; search skips
// them.
func (c *Consolidator) merge(ctx context.Context, userID string, cluster []clusterSource) error {
	content, summary, err := c.compose(ctx, cluster)
	if err != nil {
		return err
	}
	item, err := c.manager.Write(ctx, Item{
		UserID:         userID,
		Type:           TypeSemantic,
		Content:        content,
		Summary:        summary,
		Importance:     maxImportance(cluster),
		SourceTurnRefs: unionRefs(cluster),
	})
	if err != nil {
		return err
	}
	ids := make([]string, len(cluster))
	for i, src := range cluster {
		ids[i] = src.id
	}
	_, err = c.manager.graph.Run(ctx, graph.Query{
		Cypher: supersedeCypher,
		Params: map[string]any{"ids": ids, "new_id": item.ID},
		Write:  true,
	})
	return err
}

// compose asks the router for the merged wording.
func (c *Consolidator) compose(ctx context.Context, cluster []clusterSource) (string, string, error) {
	var notes strings.Builder
	for i, src := range cluster {
		fmt.Fprintf(&notes, "%d. %s\n", i+1, src.content)
	}
	res, err := c.router.Complete(ctx, llm.Request{
		System:    consolidationPrompt,
		Messages:  []llm.Message{{Role: protocol.RoleUser, Content: notes.String()}},
		MaxTokens: consolidationMaxTokens,
	}, llm.CallOptions{Complexity: llm.ComplexitySimple})
	if err != nil {
		return "", "", err
	}
	raw, ok := sliceJSON(res.Content, '{', '}')
	if !ok {
		return "", "", protocol.Errorf(protocol.KindDataIntegrity, "memory.consolidate",
			"consolidator returned no JSON")
	}
	var out struct {
		Content string `json:"content"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", "", protocol.Errorf(protocol.KindDataIntegrity, "memory.consolidate",
			"malformed consolidator output: %v", err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", "", protocol.Errorf(protocol.KindDataIntegrity, "memory.consolidate",
			"consolidator produced no content")
	}
	return out.Content, out.Summary, nil
}

// clusters groups sources greedily: each unassigned item seeds a
// cluster of everything at or above the cohesion threshold from it, and
// the cluster is kept only when it is large enough and its mean
// pairwise cosine also clears the threshold.
func clusters(sources []clusterSource, cohesion float64, minSize int) [][]clusterSource {
	assigned := make([]bool, len(sources))
	var out [][]clusterSource
	for i := range sources {
		if assigned[i] {
			continue
		}
		members := []int{i}
		for j := i + 1; j < len(sources); j++ {
			if assigned[j] {
				continue
			}
			if cosine(sources[i].embedding, sources[j].embedding) >= cohesion {
				members = append(members, j)
			}
		}
		if len(members) < minSize || meanPairwiseCosine(sources, members) < cohesion {
			continue
		}
		cluster := make([]clusterSource, 0, len(members))
		for _, idx := range members {
			assigned[idx] = true
			cluster = append(cluster, sources[idx])
		}
		out = append(out, cluster)
	}
	return out
}

func meanPairwiseCosine(sources []clusterSource, members []int) float64 {
	if len(members) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sum += cosine(sources[members[a]].embedding, sources[members[b]].embedding)
			pairs++
		}
	}
	return sum / float64(pairs)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func maxImportance(cluster []clusterSource) float64 {
	var m float64
	for _, src := range cluster {
		if src.importance > m {
			m = src.importance
		}
	}
	return m
}

func unionRefs(cluster []clusterSource) []string {
	seen := make(map[string]bool)
	var out []string
	for _, src := range cluster {
		for _, ref := range src.refs {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}

// vectorFromRecord coerces a stored embedding back to []float32. The
// driver hands list properties back as []any of float64.
func vectorFromRecord(rec graph.Record, key string) []float32 {
	raw := rec.Slice(key)
	if len(raw) == 0 {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case int64:
			out = append(out, float32(n))
		}
	}
	return out
}
