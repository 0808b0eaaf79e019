// Package worker runs background jobs on a fixed number of goroutines fed by
// a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/workorder-service/internal/config"
)

// ErrQueueFull is returned by Submit when the job was not accepted.
var ErrQueueFull = errors.New("worker queue full")

// ErrStopped is returned by Submit after Shutdown.
var ErrStopped = errors.New("worker pool stopped")

// Job is one unit of work. The context carries the pool's per-job timeout.
type Job func(ctx context.Context) error

type task struct {
	name string
	run  Job
}

// Pool executes submitted jobs. Job errors and panics are logged, never propagated.
type Pool struct {
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger

	mu      sync.RWMutex
	queue   chan task
	stopped bool
	group   *errgroup.Group
	started bool
}

func NewPool(cfg config.WorkerConfig, logger *zap.Logger) *Pool {
	concurrency := max(cfg.Concurrency, 1)
	size := max(cfg.QueueSize, 1)
	timeout := time.Duration(cfg.JobTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Pool{
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.Named("worker"),
		queue:       make(chan task, size),
	}
}

// Start launches the workers. base supplies values (not cancellation) to jobs.
func (p *Pool) Start(base context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.group = &errgroup.Group{}
	detached := context.WithoutCancel(base)
	for i := 0; i < p.concurrency; i++ {
		p.group.Go(func() error {
			for t := range p.queue {
				p.run(detached, t)
			}
			return nil
		})
	}
	p.logger.Info("worker pool started", zap.Int("concurrency", p.concurrency), zap.Int("queue_size", cap(p.queue)))
}

func (p *Pool) run(base context.Context, t task) {
	ctx, cancel := context.WithTimeout(base, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.String("job", t.name), zap.Any("panic", r))
		}
	}()
	if err := t.run(ctx); err != nil {
		p.logger.Warn("job failed", zap.String("job", t.name), zap.Error(err))
	}
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(name string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- task{name: name, run: job}:
		return nil
	default:
		return ErrQueueFull
	}
}

// pending reports how many jobs wait in the queue.
func (p *Pool) pending() int { return len(p.queue) }

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	group := p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}
	p.logger.Info("draining worker pool", zap.Int("pending", p.pending()))
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		p.logger.Info("worker pool drained")
		return err
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out", zap.Int("abandoned", p.pending()))
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}
