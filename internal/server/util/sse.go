package util

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StartSSE writes the headers of an event stream response.
func StartSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// WriteSSEEvent writes one named event with an already encoded payload and
// flushes it. An error means the client is gone.
func WriteSSEEvent(c echo.Context, event string, data []byte) error {
	if err := c.Request().Context().Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}

	c.Response().Flush()
	return nil
}
