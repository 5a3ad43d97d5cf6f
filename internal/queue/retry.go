package queue

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
)

// retries reads the x-retries header. Brokers and clients disagree on the
// integer width, so every signed width is accepted.
func retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}

// HandleFailure moves a failed delivery to the retry queue with an
// incremented x-retries header, or to the dead letter queue once MaxRetries
// is reached or err is not retryable. The original delivery is acked once
// the copy is published and requeued when publishing fails.
func HandleFailure(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, err error) {
	count := retries(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if count >= MaxRetries || !Retryable(err) {
		target = queueName + "_dlq"
		if err != nil {
			headers["x-error"] = err.Error()
		}
		log.Warn("Sending message to DLQ", "dlq", target, "retries", count, "err", err)
	} else {
		headers["x-retries"] = int32(count + 1)
		log.Info("Scheduling retry", "retry_queue", target, "attempt", count+1)
	}

	if pubErr := PublishFIFO(ctx, ch, target, msg.Body, headers); pubErr != nil {
		log.Error("Failed to republish message", "queue", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		log.Error("Failed to ack message", "err", ackErr)
	}
}
