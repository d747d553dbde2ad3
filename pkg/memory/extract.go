package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

const extractionPrompt = `You extract durable memories about a user from a conversation excerpt.

Return ONLY a JSON array, no prose. Each element:
{"type": "semantic" | "episodic" | "procedural", "content": "...", "summary": "...", "importance": 0.0-1.0}

- semantic: stable facts and stated preferences ("only greenlights sci-fi above $2M")
- episodic: events tied to this specific conversation
- procedural: how the user wants work done
- importance: how much future conversations benefit from remembering this

Only extract what is explicitly present. Return [] when nothing is worth keeping.`

const extractionMaxTokens = 1024

// Extractor turns finished conversation windows into memory items. It
// runs on the worker pool; failures bubble up so the pool can retry.
type Extractor struct {
	manager *Manager
	router  Completer
	queue   *Queue
	store   kv.Store
	cfg     config.MemoryConfig
}

// NewExtractor builds an extractor sharing the manager's graph and
// embedder.
func NewExtractor(cfg config.MemoryConfig, manager *Manager, router Completer, queue *Queue, store kv.Store) *Extractor {
	return &Extractor{manager: manager, router: router, queue: queue, store: store, cfg: cfg}
}

type candidate struct {
	Type       ItemType `json:"type"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Importance float64  `json:"importance"`
}

// Process extracts memories from one task's window. It returns the
// number of items written. Candidates the model proposes are validated,
// deduplicated against recent items of the same type, clamped to the
// importance range, embedded and written; a rejected candidate is
// skipped without failing the task.
func (e *Extractor) Process(ctx context.Context, task Task) (int, error) {
	if strings.TrimSpace(task.Window) == "" {
		return 0, nil
	}
	res, err := e.router.Complete(ctx, llm.Request{
		System:    extractionPrompt,
		Messages:  []llm.Message{{Role: protocol.RoleUser, Content: task.Window}},
		MaxTokens: extractionMaxTokens,
	}, llm.CallOptions{Complexity: llm.ComplexitySimple})
	if err != nil {
		return 0, err
	}
	candidates, err := parseCandidates(res.Content)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, c := range candidates {
		item, err := e.manager.prepare(Item{
			UserID:         task.UserID,
			Type:           c.Type,
			Content:        c.Content,
			Summary:        c.Summary,
			Importance:     c.Importance,
			SourceTurnRefs: sourceRefs(task),
		})
		if err != nil {
			slog.Warn("memory candidate rejected",
				"user_id", task.UserID, "type", c.Type, "error", err)
			continue
		}
		vecs, err := e.manager.embed.EmbedBatch(ctx, []string{item.Content, item.Summary})
		if err != nil {
			return written, err
		}
		if len(vecs) != 2 {
			return written, protocol.Errorf(protocol.KindDataIntegrity, "memory.extract",
				"embedder returned %d vectors for 2 texts", len(vecs))
		}
		dup, err := e.isDuplicate(ctx, item, vecs[0])
		if err != nil {
			return written, err
		}
		if dup {
			slog.Debug("memory candidate deduplicated",
				"user_id", task.UserID, "type", item.Type)
			continue
		}
		if _, err := e.manager.persist(ctx, item, vecs[0], vecs[1]); err != nil {
			return written, err
		}
		written++
	}
	if written > 0 {
		e.scheduleConsolidation(ctx, task.UserID)
	}
	return written, nil
}

// dedupNeighbors bounds the ANN candidates checked per new item;
// dedupWindow bounds how far back "recent" reaches.
const (
	dedupNeighbors = 20
	dedupWindow    = 30 * 24 * time.Hour
)

const dedupCypher = `CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
WHERE node.user_id = $user_id AND node.type = $type
  AND coalesce(node.superseded, false) = false
  AND node.created_at >= $since
  AND score >= $threshold
RETURN node.id AS id, score
ORDER BY score DESC, id ASC
LIMIT 1`

func (e *Extractor) isDuplicate(ctx context.Context, item Item, embedding []float32) (bool, error) {
	records, err := e.manager.graph.Run(ctx, graph.Query{
		Cypher: dedupCypher,
		Params: map[string]any{
			"index":     graph.IndexMemoryContent,
			"k":         dedupNeighbors,
			"embedding": vectorParam(embedding),
			"user_id":   item.UserID,
			"type":      string(item.Type),
			"since":     formatStamp(item.CreatedAt.Add(-dedupWindow)),
			"threshold": e.cfg.DedupSimilarity,
		},
		Idempotent: true,
	})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// scheduleConsolidation queues at most one consolidation task per user
// per interval, keyed off new memories actually being written.
func (e *Extractor) scheduleConsolidation(ctx context.Context, userID string) {
	ok, err := e.store.SetNX(ctx, kv.ConsolidationMarkKey(userID),
		formatStamp(e.manager.now()), e.cfg.ConsolidationInterval)
	if err != nil {
		slog.Debug("consolidation mark failed", "user_id", userID, "error", err)
		return
	}
	if !ok {
		return
	}
	if _, err := e.queue.Enqueue(ctx, Task{
		Kind:     TaskConsolidate,
		UserID:   userID,
		Priority: PriorityLow,
	}); err != nil {
		slog.Warn("consolidation enqueue failed", "user_id", userID, "error", err)
	}
}

func sourceRefs(task Task) []string {
	if task.ConversationID == "" || task.TurnID == "" {
		return nil
	}
	return []string{task.ConversationID + "/" + task.TurnID}
}

// parseCandidates reads the extractor's JSON, tolerating code fences
// and surrounding prose. A bare object is treated as a one-element
// array.
func parseCandidates(content string) ([]candidate, error) {
	raw, ok := sliceJSON(content, '[', ']')
	if !ok {
		if obj, objOK := sliceJSON(content, '{', '}'); objOK {
			raw = "[" + obj + "]"
		} else {
			return nil, protocol.Errorf(protocol.KindDataIntegrity, "memory.extract",
				"extractor returned no JSON")
		}
	}
	var out []candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, protocol.Errorf(protocol.KindDataIntegrity, "memory.extract",
			"malformed extractor output: %v", err)
	}
	return out, nil
}

// sliceJSON returns the outermost opener..closer span of s.
func sliceJSON(s string, opener, closer byte) (string, bool) {
	start := strings.IndexByte(s, opener)
	end := strings.LastIndexByte(s, closer)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
