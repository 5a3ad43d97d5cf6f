// Package queue runs ingestion and resolution as RabbitMQ jobs. Every work
// queue has a _retry queue that dead-letters back after a delay and a _dlq
// for messages that exhausted their retries or can never succeed.
package queue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue  = "rag_ingest_queue"
	ResolveQueue = "rag_resolve_queue"

	// MaxRetries is the number of redeliveries before a message goes to
	// the dead letter queue.
	MaxRetries = 10
	// RetryDelay is how long a failed message waits in the retry queue.
	RetryDelay = 10 * time.Second
)

// Queues lists every work queue consumed by the worker.
var Queues = []string{IngestQueue, ResolveQueue}

// Channel is the publishing side of an amqp091 channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

var _ Channel = (*amqp091.Channel)(nil)

// URLFromEnv builds the broker URL from RABBITMQ_URL or the RABBITMQ_USER,
// RABBITMQ_PASSWORD, RABBITMQ_HOST and RABBITMQ_PORT variables.
func URLFromEnv() string {
	if raw := util.GetEnv("RABBITMQ_URL"); raw != "" {
		return raw
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(util.GetEnvString("RABBITMQ_USER", "guest"), util.GetEnvString("RABBITMQ_PASSWORD", "guest")),
		Host:   util.GetEnvString("RABBITMQ_HOST", "localhost") + ":" + util.GetEnvString("RABBITMQ_PORT", "5672"),
		Path:   "/",
	}
	return u.String()
}

func Init(connURL string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each queue with its _dlq and _retry companions.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		if _, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(RetryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		); err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}
	return nil
}

// PublishFIFO publishes a persistent JSON message to queueName on the
// default exchange.
func PublishFIFO(ctx context.Context, ch Channel, queueName string, data []byte, headers amqp091.Table) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
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
