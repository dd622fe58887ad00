package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

type ingestTx struct {
	tx pgxv5.Tx
}

// BeginIngest opens the transaction that holds one ingestion batch.
func (s *GraphDBStorage) BeginIngest(ctx context.Context) (store.IngestTx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &ingestTx{tx: tx}, nil
}

const upsertEntitySQL = `
INSERT INTO graph_entities (name, entity_type, weight, source_doc_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name, entity_type) DO UPDATE
SET weight     = graph_entities.weight + 1,
    updated_at = now()
RETURNING ` + entityColumns

func (t *ingestTx) UpsertEntity(
	ctx context.Context,
	name string,
	entityType string,
	sourceDocID string,
) (common.GraphEntity, error) {
	var e common.GraphEntity
	err := t.tx.QueryRow(ctx, upsertEntitySQL, sanitizeText(name), sanitizeText(entityType), common.EntityBaselineWeight+1, sourceDocID).
		Scan(&e.ID, &e.Name, &e.EntityType, &e.Weight, &e.SourceDocID)
	if err != nil {
		return common.GraphEntity{}, fmt.Errorf("upsert entity %q (%s): %w", name, entityType, err)
	}
	return e, nil
}

func (t *ingestTx) IncrementEntityWeight(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE graph_entities
		SET weight = weight + 1, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// InsertRelationship inserts one edge inside a savepoint, so a uniqueness
// violation only discards that edge and leaves the batch usable.
func (t *ingestTx) InsertRelationship(ctx context.Context, rel common.GraphRelationship) (int64, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return 0, err
	}

	var id int64
	err = sp.QueryRow(ctx, `
		INSERT INTO graph_relationships (source_entity_id, target_entity_id, relation_type, source_doc_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, rel.SourceEntityID, rel.TargetEntityID, sanitizeText(rel.RelationType), rel.SourceDocID).Scan(&id)
	if err != nil {
		_ = sp.Rollback(ctx)
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return 0, err
	}

	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *ingestTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *ingestTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
