package orchestrator

import (
	"sort"
	"strings"
	"unicode"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Decision is a classification outcome: which agents should answer, in
// relevance order, and how confident the classifier is.
type Decision struct {
	Agents     []protocol.AgentType
	Confidence float64
	Source     string
}

// Decision sources, in the order they are consulted.
const (
	SourcePreference = "preference"
	SourceRule       = "rule"
	SourceLLM        = "llm"
	SourceAffinity   = "affinity"
	SourceDefault    = "default"
)

// Primary is the best-ranked agent.
func (d Decision) Primary() protocol.AgentType {
	if len(d.Agents) == 0 {
		return ""
	}
	return d.Agents[0]
}

// Multi reports whether the decision calls for parallel agents.
func (d Decision) Multi() bool { return len(d.Agents) >= 2 }

// buckets are the rule classifier's keyword sets. Terms with a space
// match as phrases, the rest as whole words.
var buckets = map[protocol.AgentType][]string{
	protocol.AgentSales: {
		"deal", "deals", "client", "clients", "account", "accounts",
		"pitch", "pitched", "sourced", "sold", "sell", "revenue",
		"contract", "contracts", "brand", "brands", "agency", "agencies",
		"relationship", "relationships", "contact", "contacts", "rfp", "bid",
	},
	protocol.AgentTalent: {
		"director", "directors", "directed", "writer", "writers", "wrote",
		"crew", "editor", "editors", "cinematographer", "composer",
		"cast", "casting", "talent", "filmography", "filmographies",
		"union", "producer", "producers", "credits", "worked with",
	},
	protocol.AgentAnalytics: {
		"assess", "assessment", "analyze", "analysis", "compare",
		"comparison", "trend", "trends", "pattern", "patterns",
		"viability", "performance", "forecast", "average", "breakdown",
		"correlation", "across", "overall", "portfolio", "metrics",
	},
}

// Classify is the pure rule classifier. Confidence is the top bucket's
// share of all keyword hits; every bucket with at least half the top
// score is selected, so domain-spanning questions come back
// multi-agent. No hits at all defaults to the analytics generalist with
// zero confidence, which sends the orchestrator to the LLM classifier.
func Classify(message string) Decision {
	norm := normalize(message)
	tokens := tokenSet(norm)

	scores := make(map[protocol.AgentType]int, len(buckets))
	total := 0
	for agentType, terms := range buckets {
		for _, term := range terms {
			if matches(tokens, norm, term) {
				scores[agentType]++
				total++
			}
		}
	}
	if total == 0 {
		return Decision{Agents: []protocol.AgentType{protocol.AgentAnalytics}, Source: SourceDefault}
	}

	ordered := make([]protocol.AgentType, 0, len(scores))
	for agentType, n := range scores {
		if n > 0 {
			ordered = append(ordered, agentType)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if scores[ordered[i]] != scores[ordered[j]] {
			return scores[ordered[i]] > scores[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	top := scores[ordered[0]]
	selected := make([]protocol.AgentType, 0, len(ordered))
	for _, agentType := range ordered {
		if 2*scores[agentType] >= top {
			selected = append(selected, agentType)
		}
	}
	return Decision{
		Agents:     selected,
		Confidence: float64(top) / float64(total),
		Source:     SourceRule,
	}
}

// normalize lowercases and strips punctuation so phrase matching is
// stable across "we've", "We have" and trailing question marks.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func tokenSet(norm string) map[string]bool {
	fields := strings.Fields(norm)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func matches(tokens map[string]bool, norm, term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(" "+norm+" ", " "+term+" ")
	}
	return tokens[term]
}
