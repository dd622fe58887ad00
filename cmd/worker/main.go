package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/internal/queue"
	"github.com/OFFIS-RIT/govdoc/backend/internal/storage"
	"github.com/OFFIS-RIT/govdoc/backend/internal/util"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ingest"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger/console"
	pgxstore "github.com/OFFIS-RIT/govdoc/backend/pkg/store/pgx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// Init pgx client
	pgConn, err := storage.OpenPool(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	mirror, err := storage.OpenGraphMirror(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to graph mirror", "err", err)
	}
	if mirror != nil {
		defer mirror.Close(context.Background())
	}

	registry := prometheus.NewRegistry()
	metrics, err := ingest.NewMetrics(registry)
	if err != nil {
		logger.Fatal("Failed to register metrics", "err", err)
	}
	if addr := util.GetEnv("METRICS_ADDR"); addr != "" {
		go serveMetrics(addr, registry)
	}

	svc := ingest.NewService(ingest.NewServiceParams{
		Storage: pgxstore.NewGraphDBStorageWithConnection(pgConn),
		Mirror:  mirror,
		Locker:  leaselock.New(pgConn),
		LockTTL: util.GetEnvDuration("INGEST_LOCK_TTL", 0),
		Metrics: metrics,
	})
	reconciler := ingest.NewReconciler(svc)
	handler := queue.NewHandler(svc, reconciler)

	// Init rabbitmq
	conn, err := queue.Init(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	if interval := util.GetEnvDuration("RECONCILE_INTERVAL", 0); interval > 0 && mirror != nil {
		go reconcileLoop(ctx, reconciler, interval)
	}

	// One consumer channel with prefetch 1 across all queues keeps a single
	// document write in flight per worker.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	deliveries := make(chan delivery)
	for _, name := range queue.Queues {
		go consume(ctx, stop, consumerCh, name, deliveries)
	}
	go process(ctx, ch, handler, deliveries)

	logger.Info("Listening for messages", "queues", queue.Queues)
	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

type delivery struct {
	msg   amqp.Delivery
	queue string
}

// consume forwards deliveries of one queue to out. A closed broker channel
// stops the whole worker so the orchestrator can restart it.
func consume(ctx context.Context, stop context.CancelFunc, ch *amqp.Channel, name string, out chan<- delivery) {
	msgs, err := ch.Consume(name, name+"_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", name, "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", name)
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("Message channel closed", "queue", name)
				stop()
				return
			}
			select {
			case out <- delivery{msg: msg, queue: name}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func process(ctx context.Context, ch *amqp.Channel, handler *queue.Handler, in <-chan delivery) {
	for {
		var d delivery
		select {
		case <-ctx.Done():
			logger.Info("Stopping message processor")
			return
		case d = <-in:
		}

		start := time.Now()
		logger.Info("Received message", "queue", d.queue)
		if err := handler.Handle(ctx, d.queue, d.msg.Body); err != nil {
			logger.Error("Error processing message", "queue", d.queue, "err", err)
			queue.HandleProcessingError(ctx, ch, d.msg, d.queue, err)
		} else if err := d.msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "queue", d.queue, "err", err)
		}
		logger.Info("Message done", "queue", d.queue, "duration", time.Since(start).Round(time.Millisecond))
	}
}

// reconcileLoop replays the whole relational graph into the mirror every
// interval, repairing writes the ingestion path could not mirror.
func reconcileLoop(ctx context.Context, reconciler *ingest.Reconciler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := reconciler.ReconcileAll(ctx)
			if err != nil {
				logger.Error("Periodic reconciliation failed", "err", err)
				continue
			}
			logger.Info("Periodic reconciliation finished", "documents", summary.Documents, "failed", len(summary.Failed))
		}
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server stopped", "err", err)
	}
}
