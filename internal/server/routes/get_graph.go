package routes

import (
	"net/http"
	"strings"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/govdoc/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/graph"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
)

const maxSearchTopK = 100

// SearchGraphHandler runs the chat pipeline's graph query on its own, for
// inspecting what a question would retrieve.
func SearchGraphHandler(c echo.Context) error {
	type searchGraphParams struct {
		Query string `query:"q" validate:"required"`
		TopK  int    `query:"top_k" validate:"omitempty,min=1"`
	}

	type searchGraphResponse struct {
		Message  string               `json:"message"`
		Keywords []string             `json:"keywords"`
		Entities []common.GraphEntity `json:"entities"`
		Triples  []common.GraphTriple `json:"triples"`
		Context  string               `json:"context_text"`
	}

	params := new(searchGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, searchGraphResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, searchGraphResponse{Message: "Invalid request params"})
	}

	query := strings.TrimSpace(params.Query)
	if query == "" {
		return c.JSON(http.StatusBadRequest, searchGraphResponse{Message: "q is required"})
	}
	topK := params.TopK
	if topK <= 0 {
		topK = graph.DefaultTopK
	}
	topK = min(topK, maxSearchTopK)

	engine := c.(*middleware.AppContext).App.Graph
	res, err := engine.Query(c.Request().Context(), query, topK)
	if err != nil {
		logger.Error("[Server] Graph search failed", "err", err)
		return c.JSON(http.StatusInternalServerError, searchGraphResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, searchGraphResponse{
		Message:  "OK",
		Keywords: nonNil(res.Keywords),
		Entities: nonNil(res.Entities),
		Triples:  nonNil(res.Triples),
		Context:  res.ContextText,
	})
}

// GetIngestSchemaHandler returns the JSON schema extraction services must
// follow when producing ingest payloads.
func GetIngestSchemaHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, ai.GenerateSchema(common.IngestMessage{}))
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
