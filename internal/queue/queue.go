package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/internal/util"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Work queues consumed by the worker. Each has a _retry and a _dlq sibling.
const (
	IngestQueue    = "graph_ingest_queue"
	DeleteQueue    = "graph_delete_queue"
	ReconcileQueue = "graph_reconcile_queue"
)

// Queues lists every work queue.
var Queues = []string{IngestQueue, DeleteQueue, ReconcileQueue}

const (
	retryDelay = 10 * time.Second
	maxRetries = 10
)

// Init dials RabbitMQ with the RABBITMQ_* settings, retrying while the broker
// starts up.
func Init(ctx context.Context) (*amqp091.Connection, error) {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	return util.RetryWithContext(ctx, 5, time.Second, func(ctx context.Context) (*amqp091.Connection, error) {
		conn, err := amqp091.Dial(connURL)
		if err != nil {
			logger.Warn("[Queue] Failed to connect to RabbitMQ", "host", host, "err", err)
		}
		return conn, err
	})
}

// SetupQueues declares the given work queues with their retry and dead letter
// siblings. A message in <name>_retry returns to <name> after retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}

	return nil
}

// Publisher is the part of *amqp091.Channel used to send messages.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishFIFO sends data as a persistent message to queueName.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		publishing,
	)
}

// HandleProcessingError moves a failed delivery to <queue>_retry, or to
// <queue>_dlq once it failed maxRetries times or could not be decoded. If the
// publish fails the message is requeued.
func HandleProcessingError(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		switch v := val.(type) {
		case int32:
			retries = int(v)
		case int64:
			retries = int(v)
		case int:
			retries = v
		}
	}

	target := queueName + "_retry"
	if retries >= maxRetries || errors.Is(cause, ErrMalformedMessage) {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish failed message", "queue", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
