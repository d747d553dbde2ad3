package config

import (
	"fmt"
	"time"
)

// MemoryConfig configures the long-term memory subsystem and its
// background workers.
type MemoryConfig struct {
	// Workers is the size of the background extraction pool.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty"`

	// ExtractionRetries bounds retries of a failed extraction task;
	// RetryBase is the first backoff interval, doubled per attempt.
	ExtractionRetries int           `yaml:"extraction_retries,omitempty" json:"extraction_retries,omitempty"`
	RetryBase         time.Duration `yaml:"retry_base,omitempty" json:"retry_base,omitempty"`

	// DedupSimilarity is the cosine similarity at or above which a new
	// item is considered a duplicate of a recent item of the same type.
	DedupSimilarity float64 `yaml:"dedup_similarity,omitempty" json:"dedup_similarity,omitempty"`

	// ConsolidationInterval is the sweep period per user.
	ConsolidationInterval time.Duration `yaml:"consolidation_interval,omitempty" json:"consolidation_interval,omitempty"`

	// ConsolidationCohesion is the minimum mean pairwise cosine for a
	// cluster to be merged; ConsolidationMinCluster the minimum size.
	ConsolidationCohesion  float64 `yaml:"consolidation_cohesion,omitempty" json:"consolidation_cohesion,omitempty"`
	ConsolidationMinCluster int    `yaml:"consolidation_min_cluster,omitempty" json:"consolidation_min_cluster,omitempty"`

	// LockTTL bounds the per-user consolidation lock.
	LockTTL time.Duration `yaml:"lock_ttl,omitempty" json:"lock_ttl,omitempty"`

	// SearchK is the default result count for memory search.
	SearchK int `yaml:"search_k,omitempty" json:"search_k,omitempty"`

	// AccessBoost scales the rank bonus earned by frequently accessed
	// items; the bonus grows logarithmically with access_count.
	AccessBoost float64 `yaml:"access_boost,omitempty" json:"access_boost,omitempty"`
}

// SetDefaults applies default values to MemoryConfig.
func (c *MemoryConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.ExtractionRetries == 0 {
		c.ExtractionRetries = 3
	}
	if c.RetryBase == 0 {
		c.RetryBase = time.Second
	}
	if c.DedupSimilarity == 0 {
		c.DedupSimilarity = 0.92
	}
	if c.ConsolidationInterval == 0 {
		c.ConsolidationInterval = 10 * time.Minute
	}
	if c.ConsolidationCohesion == 0 {
		c.ConsolidationCohesion = 0.85
	}
	if c.ConsolidationMinCluster == 0 {
		c.ConsolidationMinCluster = 3
	}
	if c.LockTTL == 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.SearchK == 0 {
		c.SearchK = 5
	}
	if c.AccessBoost == 0 {
		c.AccessBoost = 0.02
	}
}

// Validate checks the memory configuration.
func (c *MemoryConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.DedupSimilarity <= 0 || c.DedupSimilarity > 1 {
		return fmt.Errorf("dedup_similarity must be within (0,1], got %g", c.DedupSimilarity)
	}
	if c.ConsolidationCohesion <= 0 || c.ConsolidationCohesion > 1 {
		return fmt.Errorf("consolidation_cohesion must be within (0,1], got %g", c.ConsolidationCohesion)
	}
	if c.ConsolidationMinCluster < 2 {
		return fmt.Errorf("consolidation_min_cluster must be at least 2, got %d", c.ConsolidationMinCluster)
	}
	return nil
}
