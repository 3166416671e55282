package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/cinedeck/cinedeck/internal/observability"
)

// ErrQueueFull indicates the job queue has no capacity for another task.
var ErrQueueFull = errors.New("job queue full")

// Pool runs queued jobs on a fixed set of workers.
type Pool struct {
	coordinator *Coordinator
	logger      *observability.Logger
	queue       chan Job
	workers     int

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewPool creates a worker pool. Jobs submitted beyond the queue size are
// rejected rather than blocking the caller.
func NewPool(coordinator *Coordinator, workers, queueSize int, logger *observability.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Pool{
		coordinator: coordinator,
		logger:      logger.WithComponent("pool"),
		queue:       make(chan Job, queueSize),
		workers:     workers,
	}
}

// Start launches the workers. The context bounds every job's execution.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.queue:
					if !ok {
						return
					}
					p.logger.Debug().Int("worker", id).Str("task_id", job.TaskID).Msg("job picked up")
					p.coordinator.Run(ctx, job)
				}
			}
		}(i)
	}
	p.logger.Info().Int("workers", p.workers).Int("queue_size", cap(p.queue)).Msg("worker pool started")
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("pool stopped")
	}
	p.mu.Unlock()

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}
