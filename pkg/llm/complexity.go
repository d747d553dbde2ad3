package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Complexity buckets a request for model tier selection.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

var complexityRank = map[Complexity]int{
	ComplexitySimple:   1,
	ComplexityModerate: 2,
	ComplexityComplex:  3,
}

// Valid reports whether c is a known bucket.
func (c Complexity) Valid() bool {
	_, ok := complexityRank[c]
	return ok
}

// Max returns the higher of the two buckets.
func (c Complexity) Max(other Complexity) Complexity {
	if complexityRank[other] > complexityRank[c] {
		return other
	}
	return c
}

// Token thresholds for the heuristic. Counted over all message content.
const (
	simpleTokenCeiling   = 300
	moderateTokenCeiling = 1500
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenCount counts tokens with the cl100k_base encoding, falling back
// to the usual four-characters-per-token estimate when the encoding is
// unavailable (offline environments).
func tokenCount(text string) int {
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// ClassifyComplexity computes the complexity bucket for a call. The
// result is deterministic in its inputs: an explicit valid hint is a
// floor, analytics traffic never classifies below moderate, and tool
// availability bumps short requests that would otherwise look trivial.
func ClassifyComplexity(messages []Message, hint Complexity, agent protocol.AgentType, hasTools bool) Complexity {
	total := 0
	for _, m := range messages {
		total += tokenCount(m.Content)
	}

	var computed Complexity
	switch {
	case total <= simpleTokenCeiling:
		computed = ComplexitySimple
	case total <= moderateTokenCeiling:
		computed = ComplexityModerate
	default:
		computed = ComplexityComplex
	}

	if hasTools && computed == ComplexitySimple {
		computed = ComplexityModerate
	}
	if agent == protocol.AgentAnalytics {
		computed = computed.Max(ComplexityModerate)
	}
	if hint.Valid() {
		computed = computed.Max(hint)
	}
	return computed
}
