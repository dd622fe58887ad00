package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ingest"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
)

// ErrMalformedMessage marks a body that can never be processed. Such
// messages skip the retry queue.
var ErrMalformedMessage = errors.New("malformed queue message")

// DeleteMessage asks the worker to remove one document from the graph.
type DeleteMessage struct {
	SourceDocID string `json:"source_doc_id"`
}

// ReconcileMessage asks the worker to replay one document, or all documents
// when SourceDocID is empty, into the graph mirror.
type ReconcileMessage struct {
	SourceDocID string `json:"source_doc_id,omitempty"`
}

// Ingester is the write side of the graph.
type Ingester interface {
	Ingest(ctx context.Context, sourceDocID string, triples []common.ExtractedTriple) (ingest.Report, error)
	Delete(ctx context.Context, sourceDocID string) (ingest.DeleteReport, error)
}

// Reconciler repairs the graph mirror.
type Reconciler interface {
	ReconcileDocument(ctx context.Context, sourceDocID string) (ingest.ReconcileReport, error)
	ReconcileAll(ctx context.Context) (ingest.ReconcileSummary, error)
}

// Handler dispatches deliveries by queue name.
//
// A Handler should be created using NewHandler.
type Handler struct {
	ingester   Ingester
	reconciler Reconciler
}

// NewHandler creates a queue handler.
func NewHandler(ingester Ingester, reconciler Reconciler) *Handler {
	return &Handler{ingester: ingester, reconciler: reconciler}
}

// Handle processes one message body received on queueName.
func (h *Handler) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return h.ProcessIngestMessage(ctx, body)
	case DeleteQueue:
		return h.ProcessDeleteMessage(ctx, body)
	case ReconcileQueue:
		return h.ProcessReconcileMessage(ctx, body)
	default:
		return fmt.Errorf("%w: unknown queue %q", ErrMalformedMessage, queueName)
	}
}

func decode(body []byte, out any) error {
	if err := ai.UnmarshalFlexible(string(body), out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return nil
}

// ProcessDeleteMessage removes a document from both graph stores.
func (h *Handler) ProcessDeleteMessage(ctx context.Context, body []byte) error {
	var msg DeleteMessage
	if err := decode(body, &msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.SourceDocID) == "" {
		return fmt.Errorf("%w: missing source_doc_id", ErrMalformedMessage)
	}

	report, err := h.ingester.Delete(ctx, msg.SourceDocID)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Deleted document", "doc", report.SourceDocID, "entities", report.Entities, "relationships", report.Relationships)
	return nil
}

// ProcessReconcileMessage replays one or all documents into the mirror.
func (h *Handler) ProcessReconcileMessage(ctx context.Context, body []byte) error {
	var msg ReconcileMessage
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := decode(body, &msg); err != nil {
			return err
		}
	}

	if msg.SourceDocID == "" {
		summary, err := h.reconciler.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Reconciled graph", "documents", summary.Documents, "failed", len(summary.Failed))
		return nil
	}

	report, err := h.reconciler.ReconcileDocument(ctx, msg.SourceDocID)
	if err != nil {
		return err
	}
	if len(report.MirrorErrors) > 0 {
		return fmt.Errorf("%w: %d item(s) of %s not reconciled", ingest.ErrMirror, len(report.MirrorErrors), msg.SourceDocID)
	}
	return nil
}
