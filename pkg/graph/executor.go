package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// executor is the seam between the client and the driver, narrow enough
// to fake in tests.
type executor interface {
	run(ctx context.Context, q Query) ([]Record, error)
	batch(ctx context.Context, queries []Query) error
	shutdown(ctx context.Context) error
}

type driverExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverExecutor) run(ctx context.Context, q Query) ([]Record, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{
		neo4j.ExecuteQueryWithDatabase(d.database),
	}
	if q.Write {
		opts = append(opts, neo4j.ExecuteQueryWithWritersRouting())
	} else {
		opts = append(opts, neo4j.ExecuteQueryWithReadersRouting())
	}
	result, err := neo4j.ExecuteQuery(ctx, d.driver, q.Cypher, q.Params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(result.Records))
	for i, rec := range result.Records {
		records[i] = Record(rec.AsMap())
	}
	return records, nil
}

func (d *driverExecutor) batch(ctx context.Context, queries []Query) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range queries {
			result, err := tx.Run(ctx, q.Cypher, q.Params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (d *driverExecutor) shutdown(ctx context.Context) error {
	return d.driver.Close(ctx)
}
