// Package store persists notes, edges, documents, chunks, snapshots, and
// events to Neo4j, and note embeddings to Qdrant (spec §6). It generalizes
// the teacher's pkg/repo.Neo4jRepo and engine/semantic.VectorStore.
package store

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CypherResult is the minimal surface needed from a Neo4j result, matching
// pkg/repo/neo4j.go's unexported "result" interface.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner is the minimal surface needed to run Cypher statements,
// satisfied by both a neo4j session and a managed transaction. The teacher's
// engine/graph package references this shape (g.opener.OpenSession, tx.Run
// inside ExecuteWrite) without ever defining it consistently across
// graph.go/vehicle.go/manual_registry.go/metrics.go; this interface is the
// single consistent definition those files all assumed.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// Session is a CypherRunner that also supports closing and transactional
// writes, matching neo4j.SessionWithContext's shape.
type Session interface {
	CypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
}

// opener creates sessions against the underlying driver. Swappable for tests.
type opener interface {
	OpenSession(ctx context.Context) Session
}

// driverOpener adapts a real neo4j.DriverWithContext to opener.
type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o *driverOpener) OpenSession(ctx context.Context) Session {
	return &sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// sessionAdapter adapts neo4j.SessionWithContext to the Session interface.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txAdapter{tx: tx})
	})
}

// txAdapter adapts neo4j.ManagedTransaction to CypherRunner.
type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (a *txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return a.tx.Run(ctx, cypher, params)
}
