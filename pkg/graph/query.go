package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store"
)

const (
	// DefaultTopK is the seed limit used by the chat pipeline.
	DefaultTopK = 15
	// MaxTriples bounds the materialized relationships per query.
	MaxTriples = 60
)

// Result is the outcome of one graph query. Every triple references entities
// contained in Entities.
type Result struct {
	Keywords    []string
	Entities    []common.GraphEntity
	Triples     []common.GraphTriple
	Evidence    []common.EvidenceRecord
	ContextText string
	Seeds       int
}

// Engine answers keyword seeded one hop queries over the relational graph.
//
// An Engine should be created using NewEngine.
type Engine struct {
	reader store.GraphReader
}

// NewEngine creates a graph query engine.
func NewEngine(reader store.GraphReader) *Engine {
	return &Engine{reader: reader}
}

// Query finds seed entities whose names contain any keyword of query, expands
// them by one hop and materializes the relationships whose endpoints both
// resolved. Relationship order is defined by the store.
func (e *Engine) Query(ctx context.Context, query string, topK int) (Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	res := Result{Keywords: ExtractKeywords(query)}
	if len(res.Keywords) == 0 {
		return res, nil
	}

	seeds, err := e.reader.FindEntitiesByKeywords(ctx, res.Keywords, topK)
	if err != nil {
		return res, fmt.Errorf("find seed entities: %w", err)
	}
	res.Seeds = len(seeds)
	if len(seeds) == 0 {
		return res, nil
	}

	entities := make(map[int64]common.GraphEntity, len(seeds))
	ordered := make([]common.GraphEntity, 0, len(seeds))
	seedIDs := make([]int64, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := entities[s.ID]; ok {
			continue
		}
		entities[s.ID] = s
		ordered = append(ordered, s)
		seedIDs = append(seedIDs, s.ID)
	}

	rels, err := e.reader.GetRelationshipsForEntities(ctx, seedIDs)
	if err != nil {
		return res, fmt.Errorf("expand relationships: %w", err)
	}

	missing := make([]int64, 0)
	queued := make(map[int64]struct{})
	for _, r := range rels {
		for _, id := range []int64{r.SourceEntityID, r.TargetEntityID} {
			if _, ok := entities[id]; ok {
				continue
			}
			if _, ok := queued[id]; ok {
				continue
			}
			queued[id] = struct{}{}
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		endpoints, err := e.reader.GetEntitiesByIDs(ctx, missing)
		if err != nil {
			return res, fmt.Errorf("resolve endpoints: %w", err)
		}
		for _, ent := range endpoints {
			if _, ok := entities[ent.ID]; ok {
				continue
			}
			entities[ent.ID] = ent
			ordered = append(ordered, ent)
		}
	}

	var lines []string
	for _, r := range rels {
		if len(res.Triples) >= MaxTriples {
			break
		}
		src, ok := entities[r.SourceEntityID]
		if !ok {
			continue
		}
		dst, ok := entities[r.TargetEntityID]
		if !ok {
			continue
		}

		triple := common.GraphTriple{
			Source:     src.Name,
			SourceType: src.EntityType,
			SourceID:   src.ID,
			Target:     dst.Name,
			TargetType: dst.EntityType,
			TargetID:   dst.ID,
			Relation:   r.RelationType,
		}
		line := FormatTriple(triple)

		res.Triples = append(res.Triples, triple)
		res.Evidence = append(res.Evidence, common.EvidenceRecord{
			Content:      line,
			SourceType:   common.SourceGraph,
			DocumentName: r.SourceDocID,
		})
		lines = append(lines, line)
	}

	res.Entities = ordered
	res.ContextText = strings.Join(lines, "\n")
	return res, nil
}

// FormatTriple renders a triple as a single human readable line.
func FormatTriple(t common.GraphTriple) string {
	return fmt.Sprintf("%s(%s) -[%s]-> %s(%s)", t.Source, t.SourceType, t.Relation, t.Target, t.TargetType)
}
