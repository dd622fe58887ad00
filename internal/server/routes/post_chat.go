package routes

import (
	"net/http"
	"strings"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/govdoc/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/govdoc/backend/internal/server/util"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/pipeline"
)

type messageResponse struct {
	Message string `json:"message"`
}

// ChatStreamHandler answers a question as a server sent event stream. Once
// the stream is open every failure is reported as an error event, the HTTP
// status stays 200.
func ChatStreamHandler(c echo.Context) error {
	type chatStreamBody struct {
		Content             string   `json:"content" validate:"required"`
		TargetCollectionIDs []string `json:"target_collection_ids"`
		ConversationID      string   `json:"conversation_id"`
	}

	data := new(chatStreamBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}

	data.Content = strings.TrimSpace(data.Content)
	if data.Content == "" {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "content is required"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
	}

	runner := c.(*middleware.AppContext).App.Pipeline
	req := pipeline.Request{
		Query:          data.Content,
		CollectionIDs:  data.TargetCollectionIDs,
		ConversationID: strings.TrimSpace(data.ConversationID),
		UserID:         user.UserID,
	}

	util.StartSSE(c)

	emitter := pipeline.EmitterFunc(func(ev pipeline.Event) error {
		payload, err := pipeline.Marshal(ev)
		if err != nil {
			return err
		}
		return util.WriteSSEEvent(c, ev.EventType(), payload)
	})

	ctx := c.Request().Context()
	if err := runner.Run(ctx, req, emitter); err != nil {
		switch {
		case pipeline.IsBlocked(err):
			logger.Info("[Server] Chat request blocked", "user_id", user.UserID, "err", err)
		case ctx.Err() != nil:
			logger.Debug("[Server] Client disconnected", "user_id", user.UserID)
		default:
			logger.Error("[Server] Chat request failed", "user_id", user.UserID, "err", err)
		}
	}
	return nil
}
