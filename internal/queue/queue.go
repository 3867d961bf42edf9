package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ChunkJob is one retryable unit of work: a bounded sub-list of recipients
// for a single broadcast. ChunkID identifies the unit across requeues.
type ChunkJob struct {
	ChunkID     string  `json:"chunk_id"`
	BroadcastID int64   `json:"broadcast_id"`
	UserIDs     []int64 `json:"user_ids"`
}

// Handler processes one chunk. A returned error is an infrastructure-level
// failure (broadcast row unreadable, DB down); delivery-level outcomes are
// absorbed inside the handler and never bubble up here.
type Handler func(ctx context.Context, job ChunkJob) error

// Queue moves chunk jobs from the dispatcher to the worker pool.
type Queue interface {
	Publish(ctx context.Context, job ChunkJob) error
	Consume(ctx context.Context, workers int, handler Handler) error
	Close() error
}

// InMemoryQueue runs handlers in-process. Used by tests and by single-node
// deployments that skip the broker.
type InMemoryQueue struct {
	mu         sync.Mutex
	jobs       chan ChunkJob
	closed     bool
	maxRetries int
	log        zerolog.Logger
}

func NewInMemoryQueue(buffer, maxRetries int, log zerolog.Logger) *InMemoryQueue {
	if buffer < 1 {
		buffer = 64
	}
	return &InMemoryQueue{
		jobs:       make(chan ChunkJob, buffer),
		maxRetries: maxRetries,
		log:        log,
	}
}

func (q *InMemoryQueue) Publish(ctx context.Context, job ChunkJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs the handler across a fixed worker pool until the context
// ends. Infrastructure failures are retried with linear backoff, then
// dropped with a log line, matching the broker behavior.
func (q *InMemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.process(ctx, job, handler)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *InMemoryQueue) process(ctx context.Context, job ChunkJob, handler Handler) {
	for attempt := 0; ; attempt++ {
		err := handler(ctx, job)
		if err == nil {
			return
		}
		if attempt >= q.maxRetries {
			q.log.Error().Err(err).Str("chunk_id", job.ChunkID).
				Int64("broadcast_id", job.BroadcastID).
				Msgf("chunk dropped after %d attempts", attempt+1)
			return
		}
		q.log.Warn().Err(err).Str("chunk_id", job.ChunkID).
			Int("attempt", attempt+1).Msg("chunk failed, retrying")

		delay := time.Duration(attempt+1) * 500 * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len reports buffered jobs; test helper.
func (q *InMemoryQueue) Len() int {
	return len(q.jobs)
}
