package middleware

import (
	"context"

	"github.com/OFFIS-RIT/govdoc/backend/internal/queue"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/graph"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ingest"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/pipeline"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      int32
	Role        string
	Permissions []string
}

// ChatRunner answers one question as an event stream.
type ChatRunner interface {
	Run(ctx context.Context, req pipeline.Request, emitter pipeline.Emitter) error
}

// GraphSearcher runs keyword seeded graph queries.
type GraphSearcher interface {
	Query(ctx context.Context, query string, topK int) (graph.Result, error)
}

// DocumentReconciler repairs the graph mirror of one document.
type DocumentReconciler interface {
	ReconcileDocument(ctx context.Context, sourceDocID string) (ingest.ReconcileReport, error)
}

// App holds the components shared by all requests. They are built once at
// startup and injected, handlers never construct clients themselves.
type App struct {
	Pipeline   ChatRunner
	Graph      GraphSearcher
	Reconciler DocumentReconciler
	Queue      queue.Publisher
	Keyfunc    jwt.Keyfunc

	MasterAPIKey   string
	MasterUserID   int32
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
