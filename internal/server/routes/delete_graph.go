package routes

import (
	"encoding/json"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/govdoc/backend/internal/queue"
)

// DeleteGraphDocumentHandler enqueues the removal of every row tagged with
// the document id.
func DeleteGraphDocumentHandler(c echo.Context) error {
	type deleteDocumentParams struct {
		DocID string `param:"doc_id" validate:"required"`
	}

	params := new(deleteDocumentParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}

	body, err := json.Marshal(queue.DeleteMessage{SourceDocID: params.DocID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}

	return enqueue(c, queue.DeleteQueue, body, params.DocID)
}
