package pgx

import (
	"context"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const relationshipColumns = `id, source_entity_id, target_entity_id, relation_type, source_doc_id`

// GetRelationshipsForEntities returns every relationship that has one of the
// given entities on either side.
func (s *GraphDBStorage) GetRelationshipsForEntities(
	ctx context.Context,
	ids []int64,
) ([]common.GraphRelationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM graph_relationships
		WHERE source_entity_id = ANY($1::bigint[])
		   OR target_entity_id = ANY($1::bigint[])
	`, ids)
	if err != nil {
		return nil, err
	}

	return collectRelationships(rows)
}

// GetDocumentGraph returns the relationships tagged with sourceDocID together
// with every entity they reference and every entity tagged with sourceDocID.
func (s *GraphDBStorage) GetDocumentGraph(
	ctx context.Context,
	sourceDocID string,
) ([]common.GraphEntity, []common.GraphRelationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM graph_relationships
		WHERE source_doc_id = $1
		ORDER BY id
	`, sourceDocID)
	if err != nil {
		return nil, nil, err
	}
	relations, err := collectRelationships(rows)
	if err != nil {
		return nil, nil, err
	}

	endpointIDs := make([]int64, 0, len(relations)*2)
	for _, r := range relations {
		endpointIDs = append(endpointIDs, r.SourceEntityID, r.TargetEntityID)
	}

	rows, err = s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM graph_entities
		WHERE source_doc_id = $1 OR id = ANY($2::bigint[])
		ORDER BY id
	`, sourceDocID, endpointIDs)
	if err != nil {
		return nil, nil, err
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, nil, err
	}

	return entities, relations, nil
}

// ListSourceDocs returns every document id that still tags an entity or a
// relationship.
func (s *GraphDBStorage) ListSourceDocs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT source_doc_id FROM graph_entities
		UNION
		SELECT source_doc_id FROM graph_relationships
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}

	return pgxv5.CollectRows(rows, pgxv5.RowTo[string])
}

// DeleteBySourceDoc removes the relationships tagged with sourceDocID and the
// tagged entities no remaining relationship references, in one transaction.
// Tagged entities still used by another document are handed over to that
// document so a later delete of it removes them.
func (s *GraphDBStorage) DeleteBySourceDoc(ctx context.Context, sourceDocID string) (int64, int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	relTag, err := tx.Exec(ctx, deleteDocRelationshipsSQL, sourceDocID)
	if err != nil {
		return 0, 0, err
	}
	entTag, err := tx.Exec(ctx, deleteOrphanedDocEntitiesSQL, sourceDocID)
	if err != nil {
		return 0, 0, err
	}
	if _, err := tx.Exec(ctx, retagSharedEntitiesSQL, sourceDocID); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}

	return entTag.RowsAffected(), relTag.RowsAffected(), nil
}

const deleteDocRelationshipsSQL = `DELETE FROM graph_relationships WHERE source_doc_id = $1`

const deleteOrphanedDocEntitiesSQL = `
	DELETE FROM graph_entities e
	WHERE e.source_doc_id = $1
	  AND NOT EXISTS (
		SELECT 1 FROM graph_relationships r
		WHERE r.source_entity_id = e.id OR r.target_entity_id = e.id
	  )`

const retagSharedEntitiesSQL = `
	UPDATE graph_entities e
	SET source_doc_id = (
		SELECT min(r.source_doc_id) FROM graph_relationships r
		WHERE r.source_entity_id = e.id OR r.target_entity_id = e.id
	)
	WHERE e.source_doc_id = $1`

func collectRelationships(rows pgxv5.Rows) ([]common.GraphRelationship, error) {
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.GraphRelationship, error) {
		var r common.GraphRelationship
		err := row.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationType, &r.SourceDocID)
		return r, err
	})
}
