package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
)

// ErrConflict is returned by IngestTx.InsertRelationship when the store
// rejected a single edge because of a uniqueness constraint. Only that edge is
// rolled back.
var ErrConflict = errors.New("relationship conflicts with an existing row")

// GraphReader provides the read side of the relational graph store used by
// the query engine.
type GraphReader interface {
	FindEntitiesByKeywords(ctx context.Context, keywords []string, limit int) ([]common.GraphEntity, error)
	GetEntitiesByIDs(ctx context.Context, ids []int64) ([]common.GraphEntity, error)
	GetRelationshipsForEntities(ctx context.Context, ids []int64) ([]common.GraphRelationship, error)
}

// GraphStorage is the authoritative relational store for graph facts.
type GraphStorage interface {
	GraphReader

	BeginIngest(ctx context.Context) (IngestTx, error)
	// DeleteBySourceDoc removes the document's relationships and those of
	// its entities no other document references; the rest are retagged.
	DeleteBySourceDoc(ctx context.Context, sourceDocID string) (entities int64, relationships int64, err error)

	// GetDocumentGraph returns the relationships tagged with sourceDocID and
	// every entity they touch, plus entities tagged with sourceDocID.
	GetDocumentGraph(ctx context.Context, sourceDocID string) ([]common.GraphEntity, []common.GraphRelationship, error)
	ListSourceDocs(ctx context.Context) ([]string, error)
}

// IngestTx is one ingestion batch. Nothing is visible to readers before
// Commit.
type IngestTx interface {
	// UpsertEntity creates the entity with one sighting or adds a sighting to
	// the existing row with the same identity.
	UpsertEntity(ctx context.Context, name string, entityType string, sourceDocID string) (common.GraphEntity, error)
	IncrementEntityWeight(ctx context.Context, id int64) error
	InsertRelationship(ctx context.Context, rel common.GraphRelationship) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// GraphMirror is the traversal-optimized graph store that follows the
// relational store. Writes are match-or-create so replays are harmless.
type GraphMirror interface {
	UpsertNode(ctx context.Context, entity common.GraphEntity) error
	UpsertEdge(ctx context.Context, source common.GraphEntity, target common.GraphEntity, relation string, sourceDocID string) error
	DeleteBySourceDoc(ctx context.Context, sourceDocID string) (int64, error)
	Close(ctx context.Context) error
}
