package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/govdoc/backend/internal/queue"
	"github.com/OFFIS-RIT/govdoc/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ingest"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
)

// IngestGraphHandler enqueues one extraction batch for the worker.
func IngestGraphHandler(c echo.Context) error {
	type ingestTripleBody struct {
		SourceName    string `json:"source_name" validate:"required"`
		SourceType    string `json:"source_type"`
		TargetName    string `json:"target_name" validate:"required"`
		TargetType    string `json:"target_type"`
		RelationLabel string `json:"relation_label" validate:"required"`
	}

	type ingestGraphBody struct {
		SourceDocID string             `json:"source_doc_id" validate:"required"`
		Triples     []ingestTripleBody `json:"triples" validate:"required,min=1,dive"`
	}

	data := new(ingestGraphBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}

	msg := common.IngestMessage{
		SourceDocID: strings.TrimSpace(data.SourceDocID),
		Triples:     make([]common.ExtractedTriple, 0, len(data.Triples)),
	}
	if msg.SourceDocID == "" {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "source_doc_id is required"})
	}
	for _, t := range data.Triples {
		msg.Triples = append(msg.Triples, common.ExtractedTriple(t))
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}

	return enqueue(c, queue.IngestQueue, body, msg.SourceDocID)
}

// ReconcileDocumentHandler rewrites the graph mirror of one document from
// the relational rows and returns the report.
func ReconcileDocumentHandler(c echo.Context) error {
	type reconcileParams struct {
		DocID string `param:"doc_id" validate:"required"`
	}

	type reconcileResponse struct {
		Message string                  `json:"message"`
		Report  *ingest.ReconcileReport `json:"report,omitempty"`
	}

	params := new(reconcileParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, reconcileResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, reconcileResponse{Message: "Invalid request params"})
	}

	reconciler := c.(*middleware.AppContext).App.Reconciler
	if reconciler == nil {
		return c.JSON(http.StatusServiceUnavailable, reconcileResponse{Message: "Graph mirror is disabled"})
	}

	report, err := reconciler.ReconcileDocument(c.Request().Context(), params.DocID)
	if err != nil {
		logger.Error("[Server] Reconcile failed", "source_doc_id", params.DocID, "err", err)
		return c.JSON(http.StatusInternalServerError, reconcileResponse{Message: "Internal server error"})
	}

	message := "Document reconciled"
	if len(report.MirrorErrors) > 0 {
		message = "Document reconciled with mirror errors"
	}
	return c.JSON(http.StatusOK, reconcileResponse{Message: message, Report: &report})
}

func enqueue(c echo.Context, queueName string, body []byte, sourceDocID string) error {
	type enqueueResponse struct {
		Message     string `json:"message"`
		SourceDocID string `json:"source_doc_id,omitempty"`
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(c.Request().Context(), ch, queueName, body); err != nil {
		logger.Error("[Server] Failed to enqueue message", "queue", queueName, "source_doc_id", sourceDocID, "err", err)
		return c.JSON(http.StatusInternalServerError, enqueueResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, enqueueResponse{Message: "Accepted", SourceDocID: sourceDocID})
}
