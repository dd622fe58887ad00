package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
)

// ProcessIngestMessage stores one extraction batch. The body is an
// IngestMessage; slightly malformed JSON from the extraction service is
// repaired before decoding.
func (h *Handler) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var msg common.IngestMessage
	if err := decode(body, &msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.SourceDocID) == "" {
		return fmt.Errorf("%w: missing source_doc_id", ErrMalformedMessage)
	}

	report, err := h.ingester.Ingest(ctx, msg.SourceDocID, msg.Triples)
	if err != nil {
		return err
	}

	if len(report.MirrorErrors) > 0 {
		// The relational rows are committed; the periodic reconcile repairs
		// the mirror, so the message is not retried.
		logger.Warn("[Queue] Ingested with mirror errors", "doc", report.SourceDocID, "errors", len(report.MirrorErrors))
	}
	return nil
}
