package tools

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// vectorKinds are the entity groups universal_vector_search fans out
// over, each backed by its own vector index with its own field
// sensitivity for pre-merge redaction.
var vectorKinds = []struct {
	name        string
	index       string
	sensitivity rbac.Sensitivity
}{
	{"people", graph.IndexPersonBio, personSensitivity},
	{"organizations", graph.IndexOrganizationProfile, nil},
	{"projects", graph.IndexProjectConcept, projectSensitivity},
	{"documents", graph.IndexDocumentContent, nil},
}

const (
	vectorSearchFanout   = 4
	vectorSearchDefaultK = 5
	vectorSearchMaxK     = 20
	vectorSearchMinScore = 0.5
)

type vectorSearchArgs struct {
	QueryText string   `mapstructure:"query_text"`
	K         int      `mapstructure:"k"`
	MinScore  *float64 `mapstructure:"min_score"`
}

func vectorSearchTool(h Handles) Tool {
	return Tool{
		Name:        ToolVectorSearch,
		Description: "Semantic search across people, organizations, projects, and documents at once. Returns per-kind result groups with similarity scores.",
		Parameters: objectSchema([]string{"query_text"}, map[string]any{
			"query_text": stringProp("Free-text query, at least 2 characters"),
			"k":          intProp("Maximum results per group, default 5"),
			"min_score":  numberProp("Minimum similarity score in [0,1], default 0.5"),
		}),
		MinRole:    rbac.RoleCreativeDirector,
		Idempotent: true,
		Run: func(ctx context.Context, p rbac.Principal, args map[string]any) (Output, error) {
			var in vectorSearchArgs
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			query := strings.TrimSpace(in.QueryText)
			if len(query) < 2 {
				return Output{}, protocol.Errorf(protocol.KindValidation,
					"tools."+ToolVectorSearch, "query_text must be at least 2 characters")
			}
			k := in.K
			if k <= 0 {
				k = vectorSearchDefaultK
			}
			if k > vectorSearchMaxK {
				k = vectorSearchMaxK
			}
			minScore := float64(vectorSearchMinScore)
			if in.MinScore != nil {
				minScore = *in.MinScore
				if minScore < 0 {
					minScore = 0
				}
				if minScore > 1 {
					minScore = 1
				}
			}

			// The query is embedded exactly once and shared by every
			// group query.
			embedding, err := h.Embed.Embed(ctx, query)
			if err != nil {
				return Output{}, err
			}

			type groupResult struct {
				items []map[string]any
				err   error
			}
			results := make([]groupResult, len(vectorKinds))
			var g errgroup.Group
			g.SetLimit(vectorSearchFanout)
			for i, kind := range vectorKinds {
				g.Go(func() error {
					hits, err := h.Graph.VectorSearch(ctx, kind.index, embedding, k, minScore)
					if err != nil {
						results[i].err = err
						return nil
					}
					items := make([]map[string]any, 0, len(hits))
					for _, hit := range hits {
						item := rbac.Redact(publicProps(hit.Props), kind.sensitivity, p)
						item["id"] = hit.ID
						item["score"] = hit.Score
						items = append(items, item)
					}
					sortByScore(items)
					if len(items) > k {
						items = items[:k]
					}
					results[i].items = items
					return nil
				})
			}
			_ = g.Wait()

			groups := make(map[string]any, len(vectorKinds))
			total := 0
			failed := 0
			var firstErr error
			for i, kind := range vectorKinds {
				res := results[i]
				if res.err != nil {
					failed++
					if firstErr == nil {
						firstErr = res.err
					}
					slog.Warn("tools: vector search group failed",
						"group", kind.name, "error", res.err)
					groups[kind.name] = map[string]any{"error": protocol.UserMessage(res.err)}
					continue
				}
				groups[kind.name] = map[string]any{
					"items": res.items,
					"count": len(res.items),
				}
				total += len(res.items)
			}
			if failed == len(vectorKinds) {
				return Output{}, firstErr
			}
			return Output{Found: total > 0, Data: map[string]any{
				"query":         query,
				"groups":        groups,
				"total_results": total,
			}}, nil
		},
	}
}

// publicProps copies node properties minus the stored vectors, which
// never belong in model-facing output.
func publicProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for key, value := range props {
		if key == "embedding" || key == "summary_embedding" {
			continue
		}
		out[key] = value
	}
	return out
}

// sortByScore orders result items by score descending then id ascending
// so repeated reads over an unchanged store return identical results.
func sortByScore(items []map[string]any) {
	sort.SliceStable(items, func(i, j int) bool {
		si, _ := items[i]["score"].(float64)
		sj, _ := items[j]["score"].(float64)
		if si != sj {
			return si > sj
		}
		idi, _ := items[i]["id"].(string)
		idj, _ := items[j]["id"].(string)
		return idi < idj
	})
}
