package config

import (
	"fmt"
	"os"
	"time"
)

// Provider types supported by the router.
const (
	ProviderTypeGroq      = "groq"
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
)

// Provider roles. The router addresses providers by role, and the role
// name is what reaches the wire in assistant_final frames and metric keys.
const (
	ProviderRolePrimary   = "primary"
	ProviderRoleSecondary = "secondary"
)

// ModelTiers maps the complexity classes to concrete model names for one
// provider.
type ModelTiers struct {
	Simple   string `yaml:"simple,omitempty" json:"simple,omitempty"`
	Moderate string `yaml:"moderate,omitempty" json:"moderate,omitempty"`
	Complex  string `yaml:"complex,omitempty" json:"complex,omitempty"`
}

// ProviderConfig configures one LLM provider slot.
type ProviderConfig struct {
	// Type selects the provider implementation: groq, openai, anthropic.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// APIKey authenticates against the provider. Defaults to the
	// conventional environment variable for the type.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint (used for OpenAI-compatible
	// gateways).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// DefaultModel is used when no complexity tier matches.
	DefaultModel string `yaml:"default_model,omitempty" json:"default_model,omitempty"`

	// Models maps complexity classes to models.
	Models ModelTiers `yaml:"models,omitempty" json:"models,omitempty"`

	// MaxTokens bounds completion length; Temperature tunes sampling.
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// SetDefaults applies per-type defaults to a provider slot.
func (c *ProviderConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Type)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	switch c.Type {
	case ProviderTypeGroq:
		if c.BaseURL == "" {
			c.BaseURL = "https://api.groq.com/openai/v1"
		}
		if c.DefaultModel == "" {
			c.DefaultModel = "llama-3.3-70b-versatile"
		}
		if c.Models.Simple == "" {
			c.Models.Simple = "llama-3.1-8b-instant"
		}
		if c.Models.Moderate == "" {
			c.Models.Moderate = c.DefaultModel
		}
		if c.Models.Complex == "" {
			c.Models.Complex = c.DefaultModel
		}
	case ProviderTypeOpenAI:
		if c.DefaultModel == "" {
			c.DefaultModel = "gpt-4o"
		}
		if c.Models.Simple == "" {
			c.Models.Simple = "gpt-4o-mini"
		}
		if c.Models.Moderate == "" {
			c.Models.Moderate = c.DefaultModel
		}
		if c.Models.Complex == "" {
			c.Models.Complex = c.DefaultModel
		}
	case ProviderTypeAnthropic:
		if c.DefaultModel == "" {
			c.DefaultModel = "claude-sonnet-4-5"
		}
		if c.Models.Simple == "" {
			c.Models.Simple = "claude-3-5-haiku-latest"
		}
		if c.Models.Moderate == "" {
			c.Models.Moderate = c.DefaultModel
		}
		if c.Models.Complex == "" {
			c.Models.Complex = c.DefaultModel
		}
	}
}

// Validate checks a provider slot.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderTypeGroq, ProviderTypeOpenAI, ProviderTypeAnthropic:
	default:
		return fmt.Errorf("unknown provider type %q (valid: groq, openai, anthropic)", c.Type)
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("default_model is required for provider type %q", c.Type)
	}
	return nil
}

// ModelFor returns the model for a complexity class, falling back to the
// default model.
func (c *ProviderConfig) ModelFor(complexity string) string {
	var m string
	switch complexity {
	case "simple":
		m = c.Models.Simple
	case "moderate":
		m = c.Models.Moderate
	case "complex":
		m = c.Models.Complex
	}
	if m == "" {
		m = c.DefaultModel
	}
	return m
}

// EmbeddingsConfig configures the embedding provider slot.
type EmbeddingsConfig struct {
	// Type selects the provider implementation. Only openai-compatible
	// providers serve embeddings today.
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Model is the embedding model; Dimensions must match the graph
	// store's vector indexes.
	Model      string `yaml:"model,omitempty" json:"model,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
}

// SetDefaults applies default values to EmbeddingsConfig.
func (c *EmbeddingsConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderTypeOpenAI
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Type)
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimensions == 0 {
		c.Dimensions = 1536
	}
}

// Validate checks the embeddings configuration.
func (c *EmbeddingsConfig) Validate() error {
	if c.Type != ProviderTypeOpenAI && c.Type != ProviderTypeGroq {
		return fmt.Errorf("embeddings type %q is not openai-compatible", c.Type)
	}
	if c.Dimensions < 1 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Dimensions)
	}
	return nil
}

// ModelCost is the per-1K-token price used for cost estimates.
type ModelCost struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// LLMConfig configures the provider router.
type LLMConfig struct {
	// Primary is the low-cost open-model slot; Secondary the
	// higher-capability proprietary slot.
	Primary   ProviderConfig `yaml:"primary,omitempty" json:"primary,omitempty"`
	Secondary ProviderConfig `yaml:"secondary,omitempty" json:"secondary,omitempty"`

	// Embeddings is the embedding slot.
	Embeddings EmbeddingsConfig `yaml:"embeddings,omitempty" json:"embeddings,omitempty"`

	// TrustedProviders lists the provider roles allowed once a
	// principal's data-access level exceeds SensitivityFloor.
	TrustedProviders []string `yaml:"trusted_providers,omitempty" json:"trusted_providers,omitempty"`

	// SensitivityFloor is the data-access level above which only trusted
	// providers may serve the request.
	SensitivityFloor int `yaml:"sensitivity_floor,omitempty" json:"sensitivity_floor,omitempty"`

	// Timeout applies to non-streaming calls, StreamTimeout to
	// streaming calls.
	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	StreamTimeout time.Duration `yaml:"stream_timeout,omitempty" json:"stream_timeout,omitempty"`

	// RetryBackoff is the pause before the single in-provider retry.
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty"`

	// HealthCooldown is how long a provider stays skipped after a failed
	// health probe.
	HealthCooldown time.Duration `yaml:"health_cooldown,omitempty" json:"health_cooldown,omitempty"`

	// Costs maps model names to per-1K-token prices.
	Costs map[string]ModelCost `yaml:"costs,omitempty" json:"costs,omitempty"`
}

// SetDefaults applies default values to LLMConfig.
func (c *LLMConfig) SetDefaults() {
	if c.Primary.Type == "" {
		c.Primary.Type = ProviderTypeGroq
	}
	if c.Secondary.Type == "" {
		c.Secondary.Type = ProviderTypeAnthropic
	}
	c.Primary.SetDefaults()
	c.Secondary.SetDefaults()
	c.Embeddings.SetDefaults()

	if len(c.TrustedProviders) == 0 {
		c.TrustedProviders = []string{ProviderRoleSecondary}
	}
	if c.SensitivityFloor == 0 {
		c.SensitivityFloor = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = 120 * time.Second
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.HealthCooldown == 0 {
		c.HealthCooldown = 30 * time.Second
	}
	if c.Costs == nil {
		c.Costs = map[string]ModelCost{
			"llama-3.1-8b-instant":    {PromptPer1K: 0.00005, CompletionPer1K: 0.00008},
			"llama-3.3-70b-versatile": {PromptPer1K: 0.00059, CompletionPer1K: 0.00079},
			"gpt-4o-mini":             {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
			"gpt-4o":                  {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			"claude-3-5-haiku-latest": {PromptPer1K: 0.0008, CompletionPer1K: 0.004},
			"claude-sonnet-4-5":       {PromptPer1K: 0.003, CompletionPer1K: 0.015},
		}
	}
}

// Validate checks the router configuration.
func (c *LLMConfig) Validate() error {
	if err := c.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if err := c.Secondary.Validate(); err != nil {
		return fmt.Errorf("secondary: %w", err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	for _, role := range c.TrustedProviders {
		if role != ProviderRolePrimary && role != ProviderRoleSecondary {
			return fmt.Errorf("trusted provider %q is not a known role", role)
		}
	}
	if c.SensitivityFloor < 0 || c.SensitivityFloor > 6 {
		return fmt.Errorf("sensitivity_floor must be within 0..6, got %d", c.SensitivityFloor)
	}
	return nil
}

func apiKeyFromEnv(providerType string) string {
	switch providerType {
	case ProviderTypeGroq:
		return os.Getenv("GROQ_API_KEY")
	case ProviderTypeOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderTypeAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
