package agent

import (
	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/memory"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/tools"
)

// Variant fixes everything that distinguishes one specialist agent
// from another. The state machine itself is shared.
type Variant struct {
	// Type names the variant on the wire and in metrics.
	Type protocol.AgentType

	// SystemPrompt is the built-in prompt; cfg.Prompts may override it.
	SystemPrompt string

	// Tools is the permitted subset of registry tool names.
	Tools []string

	// Preferred names the provider role the router tries first.
	Preferred string

	// Complexity floors the router's computed complexity bucket.
	Complexity llm.Complexity

	// MemoryWeights bias recall toward the memory types the variant
	// cares about.
	MemoryWeights map[memory.ItemType]float64
}

const salesPrompt = `You are the sales intelligence assistant for an entertainment production company. You help salespeople prepare for client conversations: who sourced a deal, which organizations and contacts are involved, what the company has produced for a client before, and where relationships overlap. Ground every claim in tool results and name the people, projects and deals you relied on. When the data does not answer the question, say so plainly instead of guessing.`

const talentPrompt = `You are the talent assistant for an entertainment production company. You help match directors, writers and crew to projects: filmographies, roles on past work, union status, and who has worked with a given client or organization. Ground every claim in tool results and cite the people and projects behind it. Never speculate about availability, rates or representation beyond what the data shows.`

const analyticsPrompt = `You are the analytics assistant for an entertainment production company. You answer cross-cutting questions about the business: patterns across projects, deals, clients and talent. Combine multiple lookups when needed, reason step by step from the retrieved records, and present conclusions with the evidence that supports them. Flag weak or incomplete data instead of papering over it.`

// SalesVariant is the deal and client relationship specialist.
func SalesVariant() Variant {
	return Variant{
		Type:         protocol.AgentSales,
		SystemPrompt: salesPrompt,
		Tools: []string{
			tools.ToolDealDetails,
			tools.ToolDealSourcer,
			tools.ToolOrganizationProfile,
			tools.ToolPeopleAtOrganization,
			tools.ToolClientContributors,
			tools.ToolDocumentSearch,
			tools.ToolVectorSearch,
		},
		Preferred: config.ProviderRolePrimary,
		MemoryWeights: map[memory.ItemType]float64{
			memory.TypeSemantic:   1,
			memory.TypeEpisodic:   0.9,
			memory.TypeProcedural: 0.6,
		},
	}
}

// TalentVariant is the people and filmography specialist.
func TalentVariant() Variant {
	return Variant{
		Type:         protocol.AgentTalent,
		SystemPrompt: talentPrompt,
		Tools: []string{
			tools.ToolPersonProfile,
			tools.ToolPeopleAtOrganization,
			tools.ToolClientContributors,
			tools.ToolProjectDetails,
			tools.ToolProjectsByConcept,
			tools.ToolVectorSearch,
		},
		Preferred: config.ProviderRolePrimary,
		MemoryWeights: map[memory.ItemType]float64{
			memory.TypeSemantic:   1,
			memory.TypeEpisodic:   0.7,
			memory.TypeProcedural: 0.5,
		},
	}
}

// AnalyticsVariant handles cross-cutting reasoning over the whole
// graph. It carries every canonical tool and floors complexity at
// moderate so the router never picks the cheapest tier for it.
func AnalyticsVariant() Variant {
	return Variant{
		Type:         protocol.AgentAnalytics,
		SystemPrompt: analyticsPrompt,
		Tools: []string{
			tools.ToolPersonProfile,
			tools.ToolOrganizationProfile,
			tools.ToolProjectDetails,
			tools.ToolPeopleAtOrganization,
			tools.ToolProjectsByConcept,
			tools.ToolClientContributors,
			tools.ToolDealDetails,
			tools.ToolDealSourcer,
			tools.ToolDocumentSearch,
			tools.ToolVectorSearch,
		},
		Preferred:  config.ProviderRoleSecondary,
		Complexity: llm.ComplexityModerate,
		MemoryWeights: map[memory.ItemType]float64{
			memory.TypeSemantic:   0.8,
			memory.TypeEpisodic:   0.5,
			memory.TypeProcedural: 1,
		},
	}
}

// Variants returns the built-in specialist set.
func Variants() []Variant {
	return []Variant{SalesVariant(), TalentVariant(), AnalyticsVariant()}
}
