package config

import (
	"fmt"
	"time"
)

// AgentsConfig configures the per-agent state machine limits shared by
// all agent variants.
type AgentsConfig struct {
	// StepBudget bounds the (route_tools, call_llm) loop per turn.
	StepBudget int `yaml:"step_budget,omitempty" json:"step_budget,omitempty"`

	// ToolFanout bounds parallel tool invocations per step.
	ToolFanout int `yaml:"tool_fanout,omitempty" json:"tool_fanout,omitempty"`

	// ToolTimeout applies per tool invocation.
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty" json:"tool_timeout,omitempty"`

	// MemoryK is how many memories load_memory attaches.
	MemoryK int `yaml:"memory_k,omitempty" json:"memory_k,omitempty"`

	// Prompts overrides the built-in system prompt per agent type.
	Prompts map[string]string `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// SetDefaults applies default values to AgentsConfig.
func (c *AgentsConfig) SetDefaults() {
	if c.StepBudget == 0 {
		c.StepBudget = 6
	}
	if c.ToolFanout == 0 {
		c.ToolFanout = 4
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 10 * time.Second
	}
	if c.MemoryK == 0 {
		c.MemoryK = 5
	}
}

// Validate checks the agents configuration.
func (c *AgentsConfig) Validate() error {
	if c.StepBudget < 1 || c.StepBudget > 6 {
		return fmt.Errorf("step_budget must be within 1..6, got %d", c.StepBudget)
	}
	if c.ToolFanout < 1 || c.ToolFanout > 4 {
		return fmt.Errorf("tool_fanout must be within 1..4, got %d", c.ToolFanout)
	}
	return nil
}

// OrchestratorConfig configures classification and dispatch.
type OrchestratorConfig struct {
	// AgentFanout bounds parallel agents in multi-agent mode.
	AgentFanout int `yaml:"agent_fanout,omitempty" json:"agent_fanout,omitempty"`

	// RuleConfidence is the rule classifier confidence below which the
	// LLM classifier is consulted.
	RuleConfidence float64 `yaml:"rule_confidence,omitempty" json:"rule_confidence,omitempty"`

	// MultiAgentTimeout bounds each agent's contribution in multi-agent
	// mode; late agents are reported as unavailable.
	MultiAgentTimeout time.Duration `yaml:"multi_agent_timeout,omitempty" json:"multi_agent_timeout,omitempty"`

	// SummaryInterval is the turn count between conversation summary
	// refreshes. Zero disables summarization.
	SummaryInterval int `yaml:"summary_interval,omitempty" json:"summary_interval,omitempty"`
}

// SetDefaults applies default values to OrchestratorConfig.
func (c *OrchestratorConfig) SetDefaults() {
	if c.AgentFanout == 0 {
		c.AgentFanout = 3
	}
	if c.RuleConfidence == 0 {
		c.RuleConfidence = 0.5
	}
	if c.MultiAgentTimeout == 0 {
		c.MultiAgentTimeout = 60 * time.Second
	}
	if c.SummaryInterval == 0 {
		c.SummaryInterval = 10
	}
}

// Validate checks the orchestrator configuration.
func (c *OrchestratorConfig) Validate() error {
	if c.AgentFanout < 1 || c.AgentFanout > 3 {
		return fmt.Errorf("agent_fanout must be within 1..3, got %d", c.AgentFanout)
	}
	if c.RuleConfidence < 0 || c.RuleConfidence > 1 {
		return fmt.Errorf("rule_confidence must be within 0..1, got %g", c.RuleConfidence)
	}
	return nil
}
