package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CypherResult is the minimal read surface of a query result.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner executes a single cypher statement. Both sessions and
// transactions satisfy it.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is one unit of store access. Sessions are cheap and not
// safe for concurrent use; open one per operation and close it.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions against the backing store. The engine depends
// on this capability only, never on a concrete store product.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// --- Neo4j-backed implementation ---

type neo4jOpener struct {
	driver neo4j.DriverWithContext
}

func (o *neo4jOpener) OpenSession(ctx context.Context) CypherSession {
	return &neo4jSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type neo4jSession struct {
	sess neo4j.SessionWithContext
}

func (s *neo4jSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &neo4jResult{res: res}, nil
}

func (s *neo4jSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&neo4jTxRunner{tx: tx})
	})
}

func (s *neo4jSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type neo4jTxRunner struct {
	tx neo4j.ManagedTransaction
}

func (r *neo4jTxRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &neo4jResult{res: res}, nil
}

type neo4jResult struct {
	res neo4j.ResultWithContext
}

func (r *neo4jResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *neo4jResult) Record() *neo4j.Record         { return r.res.Record() }
func (r *neo4jResult) Err() error                    { return r.res.Err() }
