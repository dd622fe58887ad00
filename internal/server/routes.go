package server

import (
	"github.com/OFFIS-RIT/govdoc/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/govdoc/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Chat routes
	apiRoutes.POST("/chat/stream", routes.ChatStreamHandler, middleware.RequirePermission(middleware.PermChatQuery))

	// Graph routes
	apiRoutes.GET("/graph/search", routes.SearchGraphHandler, middleware.RequireAnyPermission(middleware.PermGraphSearch, middleware.PermGraphWrite))
	apiRoutes.GET("/graph/schema", routes.GetIngestSchemaHandler)
	apiRoutes.POST("/graph/ingest", routes.IngestGraphHandler, middleware.RequirePermission(middleware.PermGraphWrite))
	apiRoutes.DELETE("/graph/documents/:doc_id", routes.DeleteGraphDocumentHandler, middleware.RequirePermission(middleware.PermGraphDelete))
	apiRoutes.POST("/graph/documents/:doc_id/reconcile", routes.ReconcileDocumentHandler, middleware.RequirePermission(middleware.PermGraphReconcile))
}
