package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// searchIndexes are queried with the same embedding; hits are unioned
// by id keeping the higher similarity.
var searchIndexes = []string{graph.IndexMemoryContent, graph.IndexMemorySummary}

// searchFetchFactor over-fetches neighbors because the user and
// superseded filters run after the index query.
const searchFetchFactor = 4

const searchCypher = `CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
WHERE node.user_id = $user_id AND coalesce(node.superseded, false) = false
RETURN node.id AS id, node.type AS type, node.content AS content,
       node.summary AS summary, node.importance AS importance,
       coalesce(node.access_count, 0) AS access_count,
       node.created_at AS created_at, node.last_accessed_at AS last_accessed_at,
       node.source_turn_refs AS source_turn_refs, score
ORDER BY score DESC, id ASC`

// Search returns the user's k most relevant items for the query. The
// query is embedded once and run against both the content and summary
// indexes; per-item similarity is the max across the two, then gets a
// logarithmic access-count bonus and an optional per-type weight before
// ranking. Returned items have their access counters bumped
// best-effort.
func (m *Manager) Search(ctx context.Context, userID, query string, k int, weights map[ItemType]float64) ([]Item, error) {
	if userID == "" {
		return nil, protocol.Errorf(protocol.KindValidation, "memory.search",
			"a user id is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = m.cfg.SearchK
	}
	embedding, err := m.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]Item)
	for _, index := range searchIndexes {
		records, err := m.graph.Run(ctx, graph.Query{
			Cypher: searchCypher,
			Params: map[string]any{
				"index":     index,
				"k":         k * searchFetchFactor,
				"embedding": vectorParam(embedding),
				"user_id":   userID,
			},
			Idempotent: true,
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			item := itemFromRecord(rec)
			item.UserID = userID
			item.Score = rec.Float("score")
			if prev, ok := merged[item.ID]; ok && prev.Score >= item.Score {
				continue
			}
			merged[item.ID] = item
		}
	}

	items := make([]Item, 0, len(merged))
	for _, item := range merged {
		item.Score = rank(item, m.cfg.AccessBoost, weights)
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > k {
		items = items[:k]
	}
	m.touch(ctx, items)
	return items, nil
}

// rank applies the access-count bonus and the caller's type weight to a
// raw similarity, capped at 1.
func rank(item Item, boost float64, weights map[ItemType]float64) float64 {
	score := item.Score * (1 + boost*math.Log1p(float64(item.AccessCount)))
	if w, ok := weights[item.Type]; ok {
		score *= w
	}
	if score > 1 {
		score = 1
	}
	return score
}
