// Package age mirrors the relational graph into an Apache AGE property graph.
package age

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var graphNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ErrMissingEndpoint is returned by UpsertEdge when an endpoint node has not
// been mirrored yet.
var ErrMissingEndpoint = errors.New("edge endpoint not found in graph")

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Graph implements store.GraphMirror on AGE. It must run on its own pool
// because every connection needs the extension loaded.
type Graph struct {
	conn pgxIConn
	name string
	pool *pgxpool.Pool
}

// NewGraphParams configures Connect.
type NewGraphParams struct {
	URL       string
	GraphName string
}

// Connect opens a dedicated pool whose connections load AGE and ensures the
// graph exists.
func Connect(ctx context.Context, params NewGraphParams) (*Graph, error) {
	if !graphNameRe.MatchString(params.GraphName) {
		return nil, fmt.Errorf("invalid graph name %q", params.GraphName)
	}

	cfg, err := pgxpool.ParseConfig(params.URL)
	if err != nil {
		return nil, fmt.Errorf("parse graph database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		if _, err := conn.Exec(ctx, `LOAD 'age'`); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, `SET search_path = ag_catalog, "$user", public`)
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open graph database: %w", err)
	}

	g := &Graph{conn: pool, name: params.GraphName, pool: pool}
	if err := g.ensureGraph(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return g, nil
}

func (g *Graph) ensureGraph(ctx context.Context) error {
	var exists bool
	err := g.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ag_catalog.ag_graph WHERE name = $1)`, g.name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("look up graph %s: %w", g.name, err)
	}
	if exists {
		return nil
	}
	if _, err := g.conn.Exec(ctx, `SELECT ag_catalog.create_graph($1)`, g.name); err != nil {
		return fmt.Errorf("create graph %s: %w", g.name, err)
	}
	return nil
}

// cypherSQL wraps a Cypher statement into the SQL call AGE expects. The
// statement receives its parameters as one agtype map in $1 and returns a
// single agtype column.
func cypherSQL(graph, statement string) string {
	return fmt.Sprintf("SELECT * FROM ag_catalog.cypher('%s', $$ %s $$, $1) AS (result agtype)", graph, statement)
}

func params(values map[string]any) (string, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// count runs a statement returning count(*) and parses the agtype integer.
func (g *Graph) count(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}, statement string, values map[string]any) (int64, error) {
	p, err := params(values)
	if err != nil {
		return 0, err
	}
	var raw string
	if err := q.QueryRow(ctx, cypherSQL(g.name, statement), p).Scan(&raw); err != nil {
		return 0, err
	}
	return parseAgtypeInt(raw)
}

func parseAgtypeInt(raw string) (int64, error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "::integer")
	return strconv.ParseInt(raw, 10, 64)
}

func nodeParams(e common.GraphEntity) map[string]any {
	return map[string]any{
		"name":          e.Name,
		"entity_type":   e.EntityType,
		"entity_id":     e.ID,
		"weight":        e.Weight,
		"source_doc_id": e.SourceDocID,
	}
}

const upsertNodeCypher = `
MERGE (e:Entity {name: $name, entity_type: $entity_type})
SET e.entity_id = $entity_id, e.weight = $weight, e.source_doc_id = $source_doc_id
RETURN count(e)`

// UpsertNode creates or updates the node with the entity's identity.
func (g *Graph) UpsertNode(ctx context.Context, e common.GraphEntity) error {
	_, err := g.count(ctx, g.conn, upsertNodeCypher, nodeParams(e))
	if err != nil {
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
	n, err := g.count(ctx, g.conn, upsertEdgeCypher, edgeParams(source, target, relation, sourceDocID))
	if err != nil {
		return fmt.Errorf("upsert edge %q -[%s]-> %q: %w", source.Name, relation, target.Name, err)
	}
	if n == 0 {
		return ErrMissingEndpoint
	}
	return nil
}

const (
	deleteEdgesCypher = `
MATCH ()-[r:RELATES {source_doc_id: $source_doc_id}]->()
DELETE r
RETURN count(*)`
	countOrphanNodesCypher = `
MATCH (e:Entity {source_doc_id: $source_doc_id})
WHERE NOT EXISTS((e)-[]-())
RETURN count(e)`
	deleteOrphanNodesCypher = `
MATCH (e:Entity {source_doc_id: $source_doc_id})
WHERE NOT EXISTS((e)-[]-())
DETACH DELETE e
RETURN count(*)`
	retagSharedNodesCypher = `
MATCH (e:Entity {source_doc_id: $source_doc_id})-[r:RELATES]-()
WITH e, min(r.source_doc_id) AS doc
SET e.source_doc_id = doc
RETURN count(*)`
)

// DeleteBySourceDoc removes the edges tagged with sourceDocID and the tagged
// nodes left without edges, and returns the number of removed nodes. Tagged
// nodes other documents still connect to are retagged to one of them.
func (g *Graph) DeleteBySourceDoc(ctx context.Context, sourceDocID string) (int64, error) {
	tx, err := g.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	values := map[string]any{"source_doc_id": sourceDocID}
	if _, err := g.count(ctx, tx, deleteEdgesCypher, values); err != nil {
		return 0, fmt.Errorf("delete edges: %w", err)
	}
	nodes, err := g.count(ctx, tx, countOrphanNodesCypher, values)
	if err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	if _, err := g.count(ctx, tx, deleteOrphanNodesCypher, values); err != nil {
		return 0, fmt.Errorf("delete nodes: %w", err)
	}
	if _, err := g.count(ctx, tx, retagSharedNodesCypher, values); err != nil {
		return 0, fmt.Errorf("retag shared nodes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return nodes, nil
}

// Close closes the dedicated pool.
func (g *Graph) Close(ctx context.Context) error {
	if g.pool != nil {
		g.pool.Close()
	}
	return nil
}
