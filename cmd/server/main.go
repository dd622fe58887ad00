package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/govdoc/backend/internal/queue"
	"github.com/OFFIS-RIT/govdoc/backend/internal/server"
	mid "github.com/OFFIS-RIT/govdoc/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/govdoc/backend/internal/storage"
	"github.com/OFFIS-RIT/govdoc/backend/internal/util"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai/mock"
	oai "github.com/OFFIS-RIT/govdoc/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/govdoc/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai/remote"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/graph"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ingest"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/qa"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/retrieval/dify"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/sensitive"
	pgxstore "github.com/OFFIS-RIT/govdoc/backend/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if util.GetEnvBool("MIGRATE", true) {
		if err := storage.Migrate(databaseURL, util.GetEnvString("MIGRATIONS_DIR", "migrations")); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	conn, err := storage.OpenPool(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	db := pgxstore.NewGraphDBStorageWithConnection(conn)

	mirror, err := storage.OpenGraphMirror(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to graph mirror", "err", err)
	}
	if mirror != nil {
		defer mirror.Close(context.Background())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		logger.Fatal("Failed to register pipeline metrics", "err", err)
	}
	ingestMetrics, err := ingest.NewMetrics(registry)
	if err != nil {
		logger.Fatal("Failed to register ingest metrics", "err", err)
	}

	generator, err := newGenerator()
	if err != nil {
		logger.Fatal("Failed to create generation backend", "err", err)
	}

	searcher := dify.NewClient(dify.NewClientParams{
		BaseURL: util.GetEnv("RETRIEVAL_URL"),
		ApiKey:  util.GetEnv("RETRIEVAL_KEY"),
		Timeout: util.GetEnvDuration("RETRIEVAL_TIMEOUT", 0),
	})
	engine := graph.NewEngine(db)

	p := pipeline.NewPipeline(pipeline.NewPipelineParams{
		Gate:      sensitive.NewGate(db),
		QA:        qa.NewStore(db),
		Retriever: retrieval.NewRetriever(searcher, util.GetEnvInt("RETRIEVAL_PARALLEL", 4)),
		Graph:     engine,
		Generator: generator,
		Turns:     db,

		GraphTopK:            util.GetEnvInt("GRAPH_TOP_K", graph.DefaultTopK),
		DefaultCollectionIDs: util.GetEnvList("DEFAULT_COLLECTION_IDS"),
		StageTimeout:         util.GetEnvDuration("STAGE_TIMEOUT", pipeline.DefaultStageTimeout),
		GenerationTimeout:    util.GetEnvDuration("GENERATION_TIMEOUT", pipeline.DefaultGenerationTimeout),

		Metrics: pipelineMetrics,
	})

	var reconciler mid.DocumentReconciler
	if mirror != nil {
		svc := ingest.NewService(ingest.NewServiceParams{
			Storage: db,
			Mirror:  mirror,
			Locker:  leaselock.New(conn),
			Metrics: ingestMetrics,
		})
		reconciler = ingest.NewReconciler(svc)
	}

	que, err := queue.Init(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	app := &mid.App{
		Pipeline:   p,
		Graph:      engine,
		Reconciler: reconciler,
		Queue:      ch,

		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   int32(util.GetEnvInt("MASTER_USER_ID", 0)),
		MasterUserRole: util.GetEnvString("MASTER_USER_ROLE", "admin"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{strings.TrimRight(authURL, "/") + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	} else {
		logger.Warn("AUTH_URL not set, only the master API key is accepted")
	}

	e := server.New(app, registry)
	if err := server.Run(ctx, e, util.GetEnvString("PORT", "8080")); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}

// newGenerator builds the generation backend selected by GENERATION_BACKEND.
func newGenerator() (ai.Generator, error) {
	backend := strings.ToLower(util.GetEnvString("GENERATION_BACKEND", "remote"))
	logger.Info("Using generation backend", "backend", backend)

	switch backend {
	case "openai":
		return gai.NewClient(gai.NewClientParams{
			ChatModel: util.GetEnv("AI_CHAT_MODEL"),
			ChatURL:   util.GetEnv("AI_CHAT_URL"),
			ChatKey:   util.GetEnv("AI_CHAT_KEY"),
			Thinking:  util.GetEnv("AI_CHAT_THINKING"),
		}), nil
	case "ollama":
		return oai.NewClient(oai.NewClientParams{
			ChatModel: util.GetEnv("AI_CHAT_MODEL"),
			BaseURL:   util.GetEnv("AI_CHAT_URL"),
			ApiKey:    util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 4)),
		})
	case "mock":
		return &mock.Generator{}, nil
	default:
		return remote.NewClient(remote.NewClientParams{
			BaseURL:        util.GetEnv("GENERATION_URL"),
			ApiKey:         util.GetEnv("GENERATION_KEY"),
			ConnectTimeout: util.GetEnvDuration("GENERATION_CONNECT_TIMEOUT", 0),
		}), nil
	}
}
