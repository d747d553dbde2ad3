package config

import (
	"fmt"
	"os"
	"time"
)

// CacheConfig configures the key-value cache (redis).
type CacheConfig struct {
	// URL is a redis connection URL (redis://[:password@]host:port/db).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// OpTimeout applies per cache operation.
	OpTimeout time.Duration `yaml:"op_timeout,omitempty" json:"op_timeout,omitempty"`

	// SessionTTL bounds session records.
	SessionTTL time.Duration `yaml:"session_ttl,omitempty" json:"session_ttl,omitempty"`

	// ConversationTTL bounds conversation context entries; conversations
	// themselves are archived, not expired.
	ConversationTTL time.Duration `yaml:"conversation_ttl,omitempty" json:"conversation_ttl,omitempty"`

	// ContextTTL bounds the memory_context entries agents hydrate from.
	ContextTTL time.Duration `yaml:"context_ttl,omitempty" json:"context_ttl,omitempty"`
}

// SetDefaults applies default values to CacheConfig.
func (c *CacheConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = os.Getenv("REDIS_URL")
	}
	if c.URL == "" {
		c.URL = "redis://localhost:6379/0"
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 500 * time.Millisecond
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.ConversationTTL == 0 {
		c.ConversationTTL = 30 * time.Minute
	}
	if c.ContextTTL == 0 {
		c.ContextTTL = 30 * time.Minute
	}
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("cache url is required")
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("op_timeout must be positive")
	}
	return nil
}
