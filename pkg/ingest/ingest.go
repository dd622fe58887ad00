// Package ingest writes extracted triples into the relational graph store and
// mirrors them into the traversal graph store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store"
)

var (
	// ErrIngestionConflict marks a relationship rejected by a uniqueness
	// constraint. The edge is skipped and not retried.
	ErrIngestionConflict = errors.New("relationship insert conflicted")
	// ErrMirror marks a failed write to the graph mirror. The relational
	// store stays authoritative.
	ErrMirror = errors.New("graph mirror write failed")
	// ErrEmptyDocument rejects calls without a source document id.
	ErrEmptyDocument = errors.New("source document id is empty")
)

// Locker serializes work on one key across processes.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// MirrorError is one failed mirror write.
type MirrorError struct {
	Item string `json:"item"`
	Err  string `json:"error"`
}

// Report summarizes one ingestion batch.
type Report struct {
	SourceDocID     string        `json:"source_doc_id"`
	Triples         int           `json:"triples"`
	Invalid         int           `json:"invalid"`
	EntitiesCreated int           `json:"entities_created"`
	EntitySightings int           `json:"entity_sightings"`
	Relationships   int           `json:"relationships"`
	Conflicts       int           `json:"conflicts"`
	MirroredNodes   int           `json:"mirrored_nodes"`
	MirroredEdges   int           `json:"mirrored_edges"`
	MirrorErrors    []MirrorError `json:"mirror_errors,omitempty"`
}

// DeleteReport summarizes the removal of one document.
type DeleteReport struct {
	SourceDocID   string `json:"source_doc_id"`
	Entities      int64  `json:"entities"`
	Relationships int64  `json:"relationships"`
	MirrorNodes   int64  `json:"mirror_nodes"`
}

// Service is the write side of the graph.
//
// A Service should be created using NewService.
type Service struct {
	storage store.GraphStorage
	mirror  store.GraphMirror
	locker  Locker
	lockTTL time.Duration
	metrics *Metrics
}

// NewServiceParams configures NewService. Mirror and Locker are optional.
type NewServiceParams struct {
	Storage store.GraphStorage
	Mirror  store.GraphMirror
	Locker  Locker
	LockTTL time.Duration
	Metrics *Metrics
}

// NewService creates an ingestion service.
func NewService(params NewServiceParams) *Service {
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{
		storage: params.Storage,
		mirror:  params.Mirror,
		locker:  params.Locker,
		lockTTL: ttl,
		metrics: params.Metrics,
	}
}

func (s *Service) withDocument(ctx context.Context, sourceDocID string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLease(ctx, leaselock.DocumentKey(sourceDocID), leaselock.Options{
		TTL:          s.lockTTL,
		Wait:         true,
		WaitInterval: 500 * time.Millisecond,
		WaitJitter:   250 * time.Millisecond,
		TokenPrefix:  "ingest-",
	}, fn)
}

type identity struct {
	name       string
	entityType string
}

func normalize(name, entityType string) identity {
	return identity{name: strings.TrimSpace(name), entityType: strings.TrimSpace(entityType)}
}

// batch resolves entity identities inside one ingestion transaction.
type batch struct {
	tx          store.IngestTx
	sourceDocID string
	cache       map[identity]*common.GraphEntity
	order       []identity
	report      *Report
}

// resolve returns the entity for id, creating it on first sight. Every
// further sighting in this call or a previous one adds one to its weight.
func (b *batch) resolve(ctx context.Context, id identity) (*common.GraphEntity, error) {
	if e, ok := b.cache[id]; ok {
		if err := b.tx.IncrementEntityWeight(ctx, e.ID); err != nil {
			return nil, fmt.Errorf("increment weight of %q (%s): %w", id.name, id.entityType, err)
		}
		e.Weight++
		b.report.EntitySightings++
		return e, nil
	}

	e, err := b.tx.UpsertEntity(ctx, id.name, id.entityType, b.sourceDocID)
	if err != nil {
		return nil, err
	}
	if e.Weight <= common.EntityBaselineWeight+1 {
		b.report.EntitiesCreated++
	} else {
		b.report.EntitySightings++
	}
	b.cache[id] = &e
	b.order = append(b.order, id)
	return &e, nil
}

type insertedEdge struct {
	source   identity
	target   identity
	relation string
}

// Ingest stores triples extracted from sourceDocID.
//
// All relational writes of one call share a transaction. A relationship
// conflicting with a uniqueness constraint is skipped, any other storage
// error rolls the batch back. After the commit, touched entities and
// inserted edges are written to the mirror; mirror failures are reported
// but never undo the relational write.
func (s *Service) Ingest(ctx context.Context, sourceDocID string, triples []common.ExtractedTriple) (Report, error) {
	sourceDocID = strings.TrimSpace(sourceDocID)
	report := Report{SourceDocID: sourceDocID, Triples: len(triples)}
	if sourceDocID == "" {
		return report, ErrEmptyDocument
	}

	start := time.Now()
	err := s.withDocument(ctx, sourceDocID, func(ctx context.Context) error {
		return s.ingest(ctx, sourceDocID, triples, &report)
	})
	s.metrics.observe("ingest", time.Since(start), err)
	if err != nil {
		return report, err
	}

	logger.Info("[Ingest] Stored triples",
		"doc", sourceDocID,
		"triples", report.Triples,
		"created", report.EntitiesCreated,
		"sightings", report.EntitySightings,
		"relationships", report.Relationships,
		"conflicts", report.Conflicts,
		"mirror_errors", len(report.MirrorErrors),
	)
	return report, nil
}

func (s *Service) ingest(ctx context.Context, sourceDocID string, triples []common.ExtractedTriple, report *Report) error {
	tx, err := s.storage.BeginIngest(ctx)
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	b := &batch{
		tx:          tx,
		sourceDocID: sourceDocID,
		cache:       make(map[identity]*common.GraphEntity),
		report:      report,
	}

	var edges []insertedEdge
	for _, t := range triples {
		src := normalize(t.SourceName, t.SourceType)
		dst := normalize(t.TargetName, t.TargetType)
		relation := strings.TrimSpace(t.RelationLabel)
		if src.name == "" || dst.name == "" || relation == "" {
			report.Invalid++
			s.metrics.triple("invalid")
			continue
		}

		source, err := b.resolve(ctx, src)
		if err != nil {
			return err
		}
		target, err := b.resolve(ctx, dst)
		if err != nil {
			return err
		}

		_, err = tx.InsertRelationship(ctx, common.GraphRelationship{
			SourceEntityID: source.ID,
			TargetEntityID: target.ID,
			RelationType:   relation,
			SourceDocID:    sourceDocID,
		})
		if errors.Is(err, store.ErrConflict) {
			report.Conflicts++
			s.metrics.triple("conflict")
			logger.Debug("[Ingest] Skipped relationship", "doc", sourceDocID, "err", fmt.Errorf("%w: %w", ErrIngestionConflict, err))
			continue
		}
		if err != nil {
			return fmt.Errorf("insert relationship %q -[%s]-> %q: %w", src.name, relation, dst.name, err)
		}
		report.Relationships++
		s.metrics.triple("inserted")
		edges = append(edges, insertedEdge{source: src, target: dst, relation: relation})
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}

	s.mirrorBatch(ctx, b, edges, report)
	return nil
}

func (s *Service) mirrorBatch(ctx context.Context, b *batch, edges []insertedEdge, report *Report) {
	if s.mirror == nil {
		return
	}

	failed := make(map[identity]bool)
	for _, id := range b.order {
		e := b.cache[id]
		if err := s.mirror.UpsertNode(ctx, *e); err != nil {
			failed[id] = true
			s.mirrorFailed(report, "node", fmt.Sprintf("%s(%s)", id.name, id.entityType), err)
			continue
		}
		report.MirroredNodes++
	}

	for _, edge := range edges {
		item := fmt.Sprintf("%s -[%s]-> %s", edge.source.name, edge.relation, edge.target.name)
		if failed[edge.source] || failed[edge.target] {
			s.mirrorFailed(report, "edge", item, errors.New("endpoint not mirrored"))
			continue
		}
		err := s.mirror.UpsertEdge(ctx, *b.cache[edge.source], *b.cache[edge.target], edge.relation, b.sourceDocID)
		if err != nil {
			s.mirrorFailed(report, "edge", item, err)
			continue
		}
		report.MirroredEdges++
	}
}

func (s *Service) mirrorFailed(report *Report, kind, item string, err error) {
	s.metrics.mirrorFailed(kind)
	logger.Warn("[Ingest] Mirror write failed",
		"doc", report.SourceDocID,
		"item", item,
		"err", fmt.Errorf("%w: %w", ErrMirror, err),
	)
	report.MirrorErrors = append(report.MirrorErrors, MirrorError{Item: item, Err: err.Error()})
}

// Delete removes the rows tagged with sourceDocID from both stores. Entities
// another document still references survive and take that document's tag. The
// relational store is cleared first; a mirror failure is returned so the
// caller can retry, which is safe because both deletions are idempotent.
func (s *Service) Delete(ctx context.Context, sourceDocID string) (DeleteReport, error) {
	sourceDocID = strings.TrimSpace(sourceDocID)
	report := DeleteReport{SourceDocID: sourceDocID}
	if sourceDocID == "" {
		return report, ErrEmptyDocument
	}

	start := time.Now()
	err := s.withDocument(ctx, sourceDocID, func(ctx context.Context) error {
		entities, relationships, err := s.storage.DeleteBySourceDoc(ctx, sourceDocID)
		if err != nil {
			return fmt.Errorf("delete relational rows: %w", err)
		}
		report.Entities = entities
		report.Relationships = relationships

		if s.mirror == nil {
			return nil
		}
		nodes, err := s.mirror.DeleteBySourceDoc(ctx, sourceDocID)
		if err != nil {
			s.metrics.mirrorFailed("delete")
			return fmt.Errorf("%w: %w", ErrMirror, err)
		}
		report.MirrorNodes = nodes
		return nil
	})
	s.metrics.observe("delete", time.Since(start), err)
	if err != nil {
		return report, err
	}

	logger.Info("[Ingest] Deleted document graph",
		"doc", sourceDocID,
		"entities", report.Entities,
		"relationships", report.Relationships,
		"mirror_nodes", report.MirrorNodes,
	)
	return report, nil
}
