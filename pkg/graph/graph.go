// Package graph is the knowledge graph client. It executes parameterized
// cypher and vector-index queries against neo4j behind a bounded
// connection pool and maps driver failures into the shared error
// taxonomy. No business logic lives here; tools and the memory manager
// compose their own queries on top.
package graph

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Query is a single cypher statement with its parameters. Write selects
// writer routing. Idempotent marks the statement safe to re-execute, which
// is what permits retries; statements with observable side effects must
// leave it false unless re-running them is harmless (MERGE keyed on id).
type Query struct {
	Cypher     string
	Params     map[string]any
	Write      bool
	Idempotent bool
}

// VectorHit is one result of a vector index query.
type VectorHit struct {
	ID     string
	Labels []string
	Props  map[string]any
	Score  float64
}

// Client wraps the neo4j driver with per-call timeouts, bounded retries
// and taxonomy mapping.
type Client struct {
	exec executor
	cfg  config.GraphConfig
}

// New connects to the graph store. The pool bounds come from the
// configuration: on exhaustion the borrow timeout elapses and calls fail
// fast with a saturation error instead of queueing.
func New(cfg config.GraphConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		connectionURI(cfg),
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(conf *neo4jconfig.Config) {
			conf.MaxConnectionPoolSize = cfg.PoolMax
			conf.MaxConnectionLifetime = cfg.MaxConnLifetime
			conf.ConnectionAcquisitionTimeout = cfg.BorrowTimeout
		},
	)
	if err != nil {
		return nil, protocol.E(protocol.KindConnection, "graph.connect", err)
	}
	return &Client{
		exec: &driverExecutor{driver: driver, database: cfg.Database},
		cfg:  cfg,
	}, nil
}

func newWithExecutor(exec executor, cfg config.GraphConfig) *Client {
	return &Client{exec: exec, cfg: cfg}
}

// Run executes one statement and returns its records.
func (c *Client) Run(ctx context.Context, q Query) ([]Record, error) {
	var records []Record
	err := c.withRetry(ctx, "graph.run", q.Idempotent, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
		var err error
		records, err = c.exec.run(qctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

const vectorSearchCypher = `CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
WHERE score >= $min_score
RETURN coalesce(node.id, elementId(node)) AS id,
       labels(node) AS labels,
       properties(node) AS props,
       score
ORDER BY score DESC, id ASC`

// VectorSearch runs an ANN query against a named vector index. The
// embedding must match the configured index dimensionality exactly.
func (c *Client) VectorSearch(ctx context.Context, index string, embedding []float32, k int, minScore float64) ([]VectorHit, error) {
	if len(embedding) != c.cfg.EmbeddingDim {
		return nil, protocol.Errorf(protocol.KindDataIntegrity, "graph.vector_search",
			"embedding dimensionality %d does not match index dimensionality %d", len(embedding), c.cfg.EmbeddingDim)
	}
	q := Query{
		Cypher: vectorSearchCypher,
		Params: map[string]any{
			"index":     index,
			"k":         k,
			"embedding": vectorParam(embedding),
			"min_score": minScore,
		},
		Idempotent: true,
	}
	var records []Record
	err := c.withRetry(ctx, "graph.vector_search", true, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, c.cfg.VectorTimeout)
		defer cancel()
		var err error
		records, err = c.exec.run(qctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	hits := make([]VectorHit, 0, len(records))
	for _, rec := range records {
		hits = append(hits, VectorHit{
			ID:     rec.String("id"),
			Labels: rec.StringSlice("labels"),
			Props:  rec.Map("props"),
			Score:  rec.Float("score"),
		})
	}
	return hits, nil
}

// Transaction executes the statements in one explicit transaction,
// rolling back on the first error. It is never retried here; the managed
// driver transaction already replays transient cluster failures.
func (c *Client) Transaction(ctx context.Context, queries []Query) error {
	if len(queries) == 0 {
		return nil
	}
	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	if err := c.exec.batch(qctx, queries); err != nil {
		return classify("graph.transaction", err)
	}
	return nil
}

// Health runs a trivial probe under the query timeout.
func (c *Client) Health(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	_, err := c.exec.run(qctx, Query{Cypher: "RETURN 1 AS ok", Idempotent: true})
	if err != nil {
		return classify("graph.health", err)
	}
	return nil
}

// Close releases the driver and its pool.
func (c *Client) Close(ctx context.Context) error {
	return c.exec.shutdown(ctx)
}

// withRetry runs fn up to MaxRetries+1 times. Only retryable error kinds
// are retried, and only when the statement is idempotent. Backoff doubles
// from RetryBase with +-20% jitter.
func (c *Client) withRetry(ctx context.Context, op string, idempotent bool, fn func(context.Context) error) error {
	var last error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return classify(op, ctx.Err())
			case <-time.After(backoffDelay(attempt, c.cfg.RetryBase)):
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = classify(op, err)
		if !idempotent || !protocol.IsRetryable(last) {
			return last
		}
	}
	return last
}

func backoffDelay(attempt int, base time.Duration) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt-1))
	d *= 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(d)
}

func vectorParam(embedding []float32) []float64 {
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = float64(v)
	}
	return out
}

// connectionURI upgrades the scheme to its TLS variant when encryption is
// forced by configuration.
func connectionURI(cfg config.GraphConfig) string {
	if !cfg.Encrypted {
		return cfg.URI
	}
	for _, scheme := range []string{"neo4j://", "bolt://"} {
		if len(cfg.URI) > len(scheme) && cfg.URI[:len(scheme)] == scheme {
			return scheme[:len(scheme)-3] + "+s://" + cfg.URI[len(scheme):]
		}
	}
	return cfg.URI
}
