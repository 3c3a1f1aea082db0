package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Handler executes one job.
type Handler func(ctx context.Context, req *domain.JobRequest) error

// Queue dispatches each enqueued job to exactly one handler invocation.
// Producers may run without ever calling Start; only workers do.
type Queue interface {
	Enqueue(ctx context.Context, req *domain.JobRequest) error
	Start(ctx context.Context, h Handler) error
	Close() error
}

// MemoryQueue is an in-process worker pool over a buffered channel.
type MemoryQueue struct {
	jobs    chan *domain.JobRequest
	workers int
	logger  *observability.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryQueue creates a pool of workers draining a queue of size buffer.
func NewMemoryQueue(workers, buffer int, logger *observability.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &MemoryQueue{
		jobs:    make(chan *domain.JobRequest, buffer),
		workers: workers,
		logger:  logger.WithOperation("memory_queue"),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, req *domain.JobRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers and returns immediately.
func (q *MemoryQueue) Start(ctx context.Context, h Handler) error {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case req, ok := <-q.jobs:
					if !ok {
						return
					}
					if err := h(ctx, req); err != nil {
						q.logger.Debug().Int("worker", worker).Str("task_id", req.TaskID).Err(err).Msg("Job finished with error")
					}
				}
			}
		}(i)
	}
	q.logger.Info().Int("workers", q.workers).Msg("Workers started")
	return nil
}

// Close stops accepting jobs, lets workers drain the buffer and waits.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
