package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
)

// ReconcileReport summarizes the replay of one document.
type ReconcileReport struct {
	SourceDocID  string        `json:"source_doc_id"`
	Nodes        int           `json:"nodes"`
	Edges        int           `json:"edges"`
	MirrorErrors []MirrorError `json:"mirror_errors,omitempty"`
}

// ReconcileSummary summarizes a full reconciliation run.
type ReconcileSummary struct {
	Documents int      `json:"documents"`
	Failed    []string `json:"failed,omitempty"`
}

// Reconciler replays the relational graph into the mirror. Mirror writes are
// match-or-create, so a replay of an already consistent document changes
// nothing.
//
// A Reconciler should be created using NewReconciler.
type Reconciler struct {
	svc *Service
}

// NewReconciler creates a reconciler sharing the stores and lock of svc.
func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{svc: svc}
}

// ReconcileDocument writes every entity and relationship of sourceDocID to
// the mirror. Per-item failures are collected in the report.
func (r *Reconciler) ReconcileDocument(ctx context.Context, sourceDocID string) (ReconcileReport, error) {
	report := ReconcileReport{SourceDocID: sourceDocID}
	if sourceDocID == "" {
		return report, ErrEmptyDocument
	}
	if r.svc.mirror == nil {
		return report, nil
	}

	start := time.Now()
	err := r.svc.withDocument(ctx, sourceDocID, func(ctx context.Context) error {
		entities, relations, err := r.svc.storage.GetDocumentGraph(ctx, sourceDocID)
		if err != nil {
			return fmt.Errorf("load document graph: %w", err)
		}

		byID := make(map[int64]common.GraphEntity, len(entities))
		mirrored := make(map[int64]bool, len(entities))
		for _, e := range entities {
			byID[e.ID] = e
			if err := r.svc.mirror.UpsertNode(ctx, e); err != nil {
				r.failed(&report, "node", fmt.Sprintf("%s(%s)", e.Name, e.EntityType), err)
				continue
			}
			mirrored[e.ID] = true
			report.Nodes++
		}

		for _, rel := range relations {
			src, srcOK := byID[rel.SourceEntityID]
			dst, dstOK := byID[rel.TargetEntityID]
			item := fmt.Sprintf("relationship %d", rel.ID)
			if !srcOK || !dstOK || !mirrored[src.ID] || !mirrored[dst.ID] {
				r.failed(&report, "edge", item, fmt.Errorf("endpoint not mirrored"))
				continue
			}
			if err := r.svc.mirror.UpsertEdge(ctx, src, dst, rel.RelationType, rel.SourceDocID); err != nil {
				r.failed(&report, "edge", item, err)
				continue
			}
			report.Edges++
		}
		return nil
	})
	r.svc.metrics.observe("reconcile", time.Since(start), err)
	if err != nil {
		return report, err
	}

	logger.Debug("[Reconcile] Document replayed",
		"doc", sourceDocID,
		"nodes", report.Nodes,
		"edges", report.Edges,
		"errors", len(report.MirrorErrors),
	)
	return report, nil
}

func (r *Reconciler) failed(report *ReconcileReport, kind, item string, err error) {
	r.svc.metrics.mirrorFailed(kind)
	report.MirrorErrors = append(report.MirrorErrors, MirrorError{Item: item, Err: err.Error()})
}

// ReconcileAll replays every document that still has relational rows. A
// failing document is logged and does not stop the run; only a failure to
// list the documents or a canceled ctx is returned.
func (r *Reconciler) ReconcileAll(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	docs, err := r.svc.storage.ListSourceDocs(ctx)
	if err != nil {
		return summary, fmt.Errorf("list source documents: %w", err)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report, err := r.ReconcileDocument(ctx, doc)
		summary.Documents++
		if err != nil || len(report.MirrorErrors) > 0 {
			logger.Warn("[Reconcile] Document not fully reconciled", "doc", doc, "err", err, "item_errors", len(report.MirrorErrors))
			summary.Failed = append(summary.Failed, doc)
		}
	}

	logger.Info("[Reconcile] Finished", "documents", summary.Documents, "failed", len(summary.Failed))
	return summary, nil
}
