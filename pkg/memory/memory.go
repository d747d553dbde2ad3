// Package memory implements the long-term memory tier. Memory items
// live as Memory nodes in the knowledge graph with dual embeddings
// (content and summary), searched per user through both vector indexes.
// A background queue in the key-value layer feeds extraction workers
// that distill durable items out of finished conversation turns, and a
// consolidator periodically compacts cohesive clusters of episodic
// items into single semantic ones, marking the sources superseded but
// keeping them for audit.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// ItemType classifies a memory item.
type ItemType string

const (
	// TypeSemantic holds stable facts and stated preferences.
	TypeSemantic ItemType = "semantic"
	// TypeEpisodic holds events tied to a specific conversation.
	TypeEpisodic ItemType = "episodic"
	// TypeProcedural holds how the user wants things done.
	TypeProcedural ItemType = "procedural"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeSemantic, TypeEpisodic, TypeProcedural:
		return true
	}
	return false
}

// Item is one long-term memory belonging to a user. Score is only set
// on search results and holds the boosted similarity.
type Item struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Type           ItemType  `json:"type"`
	Content        string    `json:"content"`
	Summary        string    `json:"summary,omitempty"`
	Importance     float64   `json:"importance"`
	AccessCount    int64     `json:"access_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
	SourceTurnRefs []string  `json:"source_turn_refs,omitempty"`
	Superseded     bool      `json:"superseded,omitempty"`
	SupersededBy   string    `json:"superseded_by,omitempty"`
	Score          float64   `json:"score,omitempty"`
}

// GraphStore is the slice of the graph client the memory tier uses.
type GraphStore interface {
	Run(ctx context.Context, q graph.Query) ([]graph.Record, error)
}

// Embedder produces the vectors stored alongside items. The llm router
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer is the completion surface the extraction and consolidation
// prompts run against. The llm router satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request, opts llm.CallOptions) (*llm.Result, error)
}

// Manager owns memory item persistence, per-user search and the
// hydrated context cache.
type Manager struct {
	graph    GraphStore
	embed    Embedder
	store    kv.Store
	cfg      config.MemoryConfig
	recorder observability.Recorder

	now   func() time.Time
	newID func() string
}

// NewManager builds a memory manager. A nil recorder disables metrics.
func NewManager(cfg config.MemoryConfig, g GraphStore, e Embedder, store kv.Store, recorder observability.Recorder) *Manager {
	if recorder == nil {
		recorder = observability.NopRecorder{}
	}
	return &Manager{
		graph:    g,
		embed:    e,
		store:    store,
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

const writeItemCypher = `MERGE (m:Memory {id: $id})
SET m.user_id = $user_id,
    m.type = $type,
    m.content = $content,
    m.summary = $summary,
    m.importance = $importance,
    m.created_at = $created_at,
    m.last_accessed_at = $created_at,
    m.access_count = coalesce(m.access_count, 0),
    m.source_turn_refs = $source_turn_refs,
    m.superseded = false,
    m.embedding = $embedding,
    m.summary_embedding = $summary_embedding`

// Write embeds and persists one item. Missing fields are filled in: id,
// created_at, and a summary clipped from the content. Importance is
// clamped to [0,1].
func (m *Manager) Write(ctx context.Context, item Item) (Item, error) {
	item, err := m.prepare(item)
	if err != nil {
		return Item{}, err
	}
	vecs, err := m.embed.EmbedBatch(ctx, []string{item.Content, item.Summary})
	if err != nil {
		return Item{}, err
	}
	if len(vecs) != 2 {
		return Item{}, protocol.Errorf(protocol.KindDataIntegrity, "memory.write",
			"embedder returned %d vectors for 2 texts", len(vecs))
	}
	return m.persist(ctx, item, vecs[0], vecs[1])
}

// prepare normalizes and validates an item before persistence.
func (m *Manager) prepare(item Item) (Item, error) {
	item.Content = strings.TrimSpace(item.Content)
	item.Summary = strings.TrimSpace(item.Summary)
	if item.UserID == "" {
		return Item{}, protocol.Errorf(protocol.KindValidation, "memory.write",
			"a memory item requires a user id")
	}
	if item.Content == "" {
		return Item{}, protocol.Errorf(protocol.KindValidation, "memory.write",
			"a memory item requires content")
	}
	if !item.Type.Valid() {
		return Item{}, protocol.Errorf(protocol.KindValidation, "memory.write",
			"unknown memory type %q", item.Type)
	}
	if item.Summary == "" {
		item.Summary = clipSummary(item.Content)
	}
	item.Importance = clamp01(item.Importance)
	if item.ID == "" {
		item.ID = m.newID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now().UTC()
	}
	return item, nil
}

func (m *Manager) persist(ctx context.Context, item Item, contentVec, summaryVec []float32) (Item, error) {
	_, err := m.graph.Run(ctx, graph.Query{
		Cypher: writeItemCypher,
		Params: map[string]any{
			"id":                item.ID,
			"user_id":           item.UserID,
			"type":              string(item.Type),
			"content":           item.Content,
			"summary":           item.Summary,
			"importance":        item.Importance,
			"created_at":        formatStamp(item.CreatedAt),
			"source_turn_refs":  item.SourceTurnRefs,
			"embedding":         vectorParam(contentVec),
			"summary_embedding": vectorParam(summaryVec),
		},
		Write: true,
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// Link records that the source item was compacted into the target.
type Link struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// UserGraph is a user's full memory graph: every item, superseded ones
// included, plus the consolidation lineage between them.
type UserGraph struct {
	Items []Item `json:"items"`
	Links []Link `json:"links,omitempty"`
}

const userGraphCypher = `MATCH (m:Memory {user_id: $user_id})
RETURN m.id AS id, m.type AS type, m.content AS content, m.summary AS summary,
       m.importance AS importance, coalesce(m.access_count, 0) AS access_count,
       m.created_at AS created_at, m.last_accessed_at AS last_accessed_at,
       m.source_turn_refs AS source_turn_refs,
       coalesce(m.superseded, false) AS superseded, m.superseded_by AS superseded_by
ORDER BY m.created_at, m.id`

// Graph returns the user's memory graph in creation order.
func (m *Manager) Graph(ctx context.Context, userID string) (UserGraph, error) {
	if userID == "" {
		return UserGraph{}, protocol.Errorf(protocol.KindValidation, "memory.graph",
			"a user id is required")
	}
	records, err := m.graph.Run(ctx, graph.Query{
		Cypher:     userGraphCypher,
		Params:     map[string]any{"user_id": userID},
		Idempotent: true,
	})
	if err != nil {
		return UserGraph{}, err
	}
	out := UserGraph{Items: make([]Item, 0, len(records))}
	for _, rec := range records {
		item := itemFromRecord(rec)
		item.UserID = userID
		out.Items = append(out.Items, item)
		if item.SupersededBy != "" {
			out.Links = append(out.Links, Link{SourceID: item.ID, TargetID: item.SupersededBy})
		}
	}
	return out, nil
}

// contextTTL bounds how long a hydrated memory context stays warm.
const contextTTL = 30 * time.Minute

// CachedContext returns the rendered memory context for a thread, if
// one is still warm.
func (m *Manager) CachedContext(ctx context.Context, threadID string) (string, bool, error) {
	v, err := m.store.Get(ctx, kv.MemoryContextKey(threadID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// CacheContext stores the rendered memory context for a thread.
func (m *Manager) CacheContext(ctx context.Context, threadID, rendered string) error {
	return m.store.Set(ctx, kv.MemoryContextKey(threadID), rendered, contextTTL)
}

const touchCypher = `MATCH (m:Memory) WHERE m.id IN $ids
SET m.access_count = coalesce(m.access_count, 0) + 1,
    m.last_accessed_at = $now`

// touch bumps access counters on returned items. Best-effort; a failed
// touch never fails the search that triggered it.
func (m *Manager) touch(ctx context.Context, items []Item) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	_, err := m.graph.Run(ctx, graph.Query{
		Cypher: touchCypher,
		Params: map[string]any{"ids": ids, "now": formatStamp(m.now().UTC())},
		Write:  true,
	})
	if err != nil {
		slog.Debug("memory access touch failed", "items", len(ids), "error", err)
	}
}

func itemFromRecord(rec graph.Record) Item {
	return Item{
		ID:             rec.String("id"),
		Type:           ItemType(rec.String("type")),
		Content:        rec.String("content"),
		Summary:        rec.String("summary"),
		Importance:     rec.Float("importance"),
		AccessCount:    rec.Int("access_count"),
		CreatedAt:      parseStamp(rec.String("created_at")),
		LastAccessedAt: parseStamp(rec.String("last_accessed_at")),
		SourceTurnRefs: rec.StringSlice("source_turn_refs"),
		Superseded:     rec.Bool("superseded"),
		SupersededBy:   rec.String("superseded_by"),
	}
}

// Timestamps are stored as RFC3339 UTC strings so Cypher string
// comparison orders them correctly.
func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// summaryRunes caps the fallback summary clipped from item content.
const summaryRunes = 160

func clipSummary(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryRunes {
		return content
	}
	return strings.TrimSpace(string(runes[:summaryRunes]))
}

func vectorParam(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
