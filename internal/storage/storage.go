// Package storage opens the databases shared by the server and the worker.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/internal/util"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store/age"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store/neo4j"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Graph mirror backends selected with GRAPH_BACKEND.
const (
	GraphBackendAGE   = "age"
	GraphBackendNeo4j = "neo4j"
	GraphBackendNone  = "none"
)

// Migrate applies the SQL migrations in dir to the database at databaseURL.
func Migrate(databaseURL, dir string) error {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Warn("[Storage] Failed to close migrator", "err", err)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Info("[Storage] Database schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

// OpenPool connects to the relational database, retrying while it starts up.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return util.RetryWithContext(ctx, 5, time.Second, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			logger.Warn("[Storage] Database not reachable", "err", err)
			return nil, err
		}
		return pool, nil
	})
}

// OpenGraphMirror connects the mirror configured by GRAPH_BACKEND. It returns
// nil for the none backend; the relational store then is the only graph.
func OpenGraphMirror(ctx context.Context) (store.GraphMirror, error) {
	backend := strings.ToLower(util.GetEnvString("GRAPH_BACKEND", GraphBackendAGE))

	switch backend {
	case GraphBackendAGE:
		url := util.GetEnvString("GRAPH_DATABASE_URL", util.GetEnv("DATABASE_URL"))
		g, err := age.Connect(ctx, age.NewGraphParams{
			URL:       url,
			GraphName: util.GetEnvString("GRAPH_NAME", "govdoc"),
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	case GraphBackendNeo4j:
		g, err := neo4j.Connect(ctx, neo4j.NewGraphParams{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),

			MaxConnectionPoolSize: util.GetEnvInt("NEO4J_POOL_SIZE", 20),
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	case GraphBackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown GRAPH_BACKEND %q", backend)
	}
}
