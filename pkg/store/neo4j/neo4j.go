// Package neo4j mirrors the relational graph into a Neo4j database.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrMissingEndpoint is returned by UpsertEdge when an endpoint node has not
// been mirrored yet.
var ErrMissingEndpoint = errors.New("edge endpoint not found in graph")

// Graph implements store.GraphMirror on Neo4j.
type Graph struct {
	driver   neo4jdrv.DriverWithContext
	database string
}

// NewGraphParams configures Connect.
type NewGraphParams struct {
	URI      string
	Username string
	Password string
	Database string

	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
}

// Connect creates the driver, verifies connectivity and ensures the identity
// constraint exists.
func Connect(ctx context.Context, params NewGraphParams) (*Graph, error) {
	if params.MaxConnectionPoolSize <= 0 {
		params.MaxConnectionPoolSize = 20
	}
	if params.ConnectionTimeout <= 0 {
		params.ConnectionTimeout = 30 * time.Second
	}

	driver, err := neo4jdrv.NewDriverWithContext(
		params.URI,
		neo4jdrv.BasicAuth(params.Username, params.Password, ""),
		func(cfg *neo4jdrv.Config) {
			cfg.MaxConnectionPoolSize = params.MaxConnectionPoolSize
			cfg.ConnectionAcquisitionTimeout = params.ConnectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}

	g := &Graph{driver: driver, database: params.Database}
	if _, err := g.write(ctx, identityConstraintCypher, nil); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("create identity constraint: %w", err)
	}
	return g, nil
}

const identityConstraintCypher = `
CREATE CONSTRAINT entity_identity IF NOT EXISTS
FOR (e:Entity) REQUIRE (e.name, e.entity_type) IS UNIQUE`

// write runs one statement in a managed write transaction and returns the
// first column of the single result row, if any.
func (g *Graph) write(ctx context.Context, cypher string, params map[string]any) (any, error) {
	values, err := g.writeAll(ctx, params, cypher)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// writeAll runs the statements in order in one managed write transaction and
// returns the first column of each statement's first row.
func (g *Graph) writeAll(ctx context.Context, params map[string]any, cyphers ...string) ([]any, error) {
	session := g.driver.NewSession(ctx, neo4jdrv.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   neo4jdrv.AccessModeWrite,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		values := make([]any, len(cyphers))
		for i, cypher := range cyphers {
			res, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			records, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) > 0 && len(records[0].Values) > 0 {
				values[i] = records[0].Values[0]
			}
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

func nodeParams(e common.GraphEntity) map[string]any {
	return map[string]any{
		"name":          e.Name,
		"entity_type":   e.EntityType,
		"entity_id":     e.ID,
		"weight":        int64(e.Weight),
		"source_doc_id": e.SourceDocID,
	}
}

const upsertNodeCypher = `
MERGE (e:Entity {name: $name, entity_type: $entity_type})
SET e.entity_id = $entity_id, e.weight = $weight, e.source_doc_id = $source_doc_id
RETURN count(e)`

// UpsertNode creates or updates the node with the entity's identity.
func (g *Graph) UpsertNode(ctx context.Context, e common.GraphEntity) error {
	if _, err := g.write(ctx, upsertNodeCypher, nodeParams(e)); err != nil {
		return fmt.Errorf("upsert node %q (%s): %w", e.Name, e.EntityType, err)
	}
	return nil
}

func edgeParams(source, target common.GraphEntity, relation, sourceDocID string) map[string]any {
	return map[string]any{
		"source_name":   source.Name,
		"source_type":   source.EntityType,
		"target_name":   target.Name,
		"target_type":   target.EntityType,
		"relation":      relation,
		"source_doc_id": sourceDocID,
	}
}

const upsertEdgeCypher = `
MATCH (s:Entity {name: $source_name, entity_type: $source_type})
MATCH (t:Entity {name: $target_name, entity_type: $target_type})
MERGE (s)-[r:RELATES {relation: $relation, source_doc_id: $source_doc_id}]->(t)
RETURN count(r)`

// UpsertEdge creates the edge between two mirrored nodes unless an edge with
// the same relation and document already exists.
func (g *Graph) UpsertEdge(ctx context.Context, source, target common.GraphEntity, relation, sourceDocID string) error {
	v, err := g.write(ctx, upsertEdgeCypher, edgeParams(source, target, relation, sourceDocID))
	if err != nil {
		return fmt.Errorf("upsert edge %q -[%s]-> %q: %w", source.Name, relation, target.Name, err)
	}
	if n, _ := v.(int64); n == 0 {
		return ErrMissingEndpoint
	}
	return nil
}

const deleteBySourceDocCypher = `
OPTIONAL MATCH ()-[r:RELATES {source_doc_id: $source_doc_id}]->()
DELETE r
WITH count(r) AS edges
OPTIONAL MATCH (e:Entity {source_doc_id: $source_doc_id})
WHERE NOT EXISTS { (e)--() }
DETACH DELETE e
RETURN count(e)`

const retagSharedNodesCypher = `
MATCH (e:Entity {source_doc_id: $source_doc_id})-[r:RELATES]-()
WITH e, min(r.source_doc_id) AS doc
SET e.source_doc_id = doc
RETURN count(e)`

// DeleteBySourceDoc removes the edges tagged with sourceDocID and the tagged
// nodes left without edges, and returns the number of removed nodes. Tagged
// nodes other documents still connect to are retagged to one of them.
func (g *Graph) DeleteBySourceDoc(ctx context.Context, sourceDocID string) (int64, error) {
	values, err := g.writeAll(ctx, map[string]any{"source_doc_id": sourceDocID},
		deleteBySourceDocCypher, retagSharedNodesCypher)
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", sourceDocID, err)
	}
	n, _ := values[0].(int64)
	return n, nil
}

// Close releases the driver.
func (g *Graph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}
