package config

import (
	"fmt"
	"os"
	"time"
)

// GraphConfig configures the knowledge graph store connection.
//
// Example:
//
//	graph:
//	  uri: ${NEO4J_URI:-bolt://localhost:7687}
//	  username: ${NEO4J_USERNAME:-neo4j}
//	  password: ${NEO4J_PASSWORD}
//	  database: neo4j
//	  pool_max: 100
type GraphConfig struct {
	// URI is the bolt/neo4j connection URI.
	URI string `yaml:"uri,omitempty" json:"uri,omitempty"`

	// Username and Password authenticate against the store.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Database is the target database name.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	// Encrypted forces TLS regardless of the URI scheme.
	Encrypted bool `yaml:"encrypted,omitempty" json:"encrypted,omitempty"`

	// PoolMax bounds the connection pool.
	PoolMax int `yaml:"pool_max,omitempty" json:"pool_max,omitempty"`

	// MaxConnLifetime bounds how long a pooled connection may live.
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime,omitempty" json:"max_conn_lifetime,omitempty"`

	// BorrowTimeout bounds how long a caller waits for a pooled
	// connection before the call fails with a saturation error.
	BorrowTimeout time.Duration `yaml:"borrow_timeout,omitempty" json:"borrow_timeout,omitempty"`

	// QueryTimeout applies per plain query; VectorTimeout per vector
	// index query.
	QueryTimeout  time.Duration `yaml:"query_timeout,omitempty" json:"query_timeout,omitempty"`
	VectorTimeout time.Duration `yaml:"vector_timeout,omitempty" json:"vector_timeout,omitempty"`

	// MaxRetries bounds retries of retryable failures; RetryBase is the
	// first backoff interval, doubled per attempt with jitter.
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryBase  time.Duration `yaml:"retry_base,omitempty" json:"retry_base,omitempty"`

	// EmbeddingDim is the fixed dimensionality of every vector index.
	EmbeddingDim int `yaml:"embedding_dim,omitempty" json:"embedding_dim,omitempty"`
}

// SetDefaults applies default values to GraphConfig.
func (c *GraphConfig) SetDefaults() {
	if c.URI == "" {
		c.URI = os.Getenv("NEO4J_URI")
	}
	if c.URI == "" {
		c.URI = "bolt://localhost:7687"
	}
	if c.Username == "" {
		c.Username = os.Getenv("NEO4J_USERNAME")
	}
	if c.Username == "" {
		c.Username = "neo4j"
	}
	if c.Password == "" {
		c.Password = os.Getenv("NEO4J_PASSWORD")
	}
	if c.Database == "" {
		c.Database = os.Getenv("NEO4J_DATABASE")
	}
	if c.Database == "" {
		c.Database = "neo4j"
	}
	if c.PoolMax == 0 {
		c.PoolMax = 100
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.BorrowTimeout == 0 {
		c.BorrowTimeout = 30 * time.Second
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 2 * time.Second
	}
	if c.VectorTimeout == 0 {
		c.VectorTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBase == 0 {
		c.RetryBase = 100 * time.Millisecond
	}
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = 1536
	}
}

// Validate checks the graph configuration.
func (c *GraphConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("graph uri is required")
	}
	if c.PoolMax < 1 {
		return fmt.Errorf("pool_max must be positive, got %d", c.PoolMax)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
