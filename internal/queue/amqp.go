package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const chunkQueueName = "broadcast_chunks"

// AMQPQueue carries chunk jobs over RabbitMQ. The queue is durable and
// messages are persistent so enqueued chunks survive broker restarts.
type AMQPQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	maxRetries int
	log        zerolog.Logger
}

func NewAMQPQueue(url string, maxRetries int, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		chunkQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &AMQPQueue{conn: conn, ch: ch, maxRetries: maxRetries, log: log}, nil
}

func (q *AMQPQueue) Publish(_ context.Context, job ChunkJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal chunk job: %w", err)
	}
	return q.ch.Publish(
		"",
		chunkQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume reads chunk jobs with a bounded prefetch and fans them across
// the worker pool. A handler error requeues the job with an incremented
// x-retry-count header until the retry budget is spent.
func (q *AMQPQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	if err := q.ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := q.ch.Consume(
		chunkQueueName,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for d := range deliveries {
				q.handleDelivery(ctx, d, handler)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		close(done)
	}()
	<-done
	return ctx.Err()
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var job ChunkJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Error().Err(err).Msg("invalid chunk job payload, dropping")
		_ = d.Ack(false)
		return
	}

	err := handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= q.maxRetries {
		q.log.Error().Err(err).Str("chunk_id", job.ChunkID).
			Int64("broadcast_id", job.BroadcastID).
			Msgf("chunk dropped after %d requeues", retries)
		_ = d.Ack(false)
		return
	}

	q.log.Warn().Err(err).Str("chunk_id", job.ChunkID).
		Int("retry", retries+1).Msg("chunk handler failed, requeueing")

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      amqp.Table{"x-retry-count": int32(retries + 1)},
	}
	if pubErr := q.ch.Publish("", chunkQueueName, false, false, pub); pubErr != nil {
		// Could not republish; put the original back instead.
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
