package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

// RedisQueue is a list-based queue: producers LPUSH, workers BRPOP. A job
// popped by a worker that then dies is lost.
type RedisQueue struct {
	client  *redis.Client
	key     string
	workers int
	poll    time.Duration
	logger  *observability.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisQueue uses client without taking ownership of it.
func NewRedisQueue(client *redis.Client, prefix string, workers int, logger *observability.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "te:"
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &RedisQueue{
		client:  client,
		key:     prefix + "queue:jobs",
		workers: workers,
		poll:    time.Second,
		logger:  logger.WithOperation("redis_queue"),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, req *domain.JobRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal job request: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) Start(ctx context.Context, h Handler) error {
	ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			q.consume(ctx, worker, h)
		}(i)
	}
	q.logger.Info().Int("workers", q.workers).Str("key", q.key).Msg("Workers started")
	return nil
}

func (q *RedisQueue) consume(ctx context.Context, worker int, h Handler) {
	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn().Int("worker", worker).Err(err).Msg("Queue pop failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.poll):
			}
			continue
		}

		// res is [key, value]
		var req domain.JobRequest
		if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
			q.logger.Error().Int("worker", worker).Err(err).Msg("Dropping malformed job")
			continue
		}

		if err := h(ctx, &req); err != nil {
			q.logger.Debug().Int("worker", worker).Str("task_id", req.TaskID).Err(err).Msg("Job finished with error")
		}
	}
}

// Close stops the workers after their current job.
func (q *RedisQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	return nil
}
