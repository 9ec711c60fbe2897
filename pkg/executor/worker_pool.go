package executor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/concurrency"
)

var (
	// ErrPoolClosed is returned when submitting to a closed worker pool.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted is returned when submitting before Start.
	ErrPoolNotStarted = errors.New("worker pool is not started")
)

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	// NumWorkers is the number of worker goroutines.
	// If 0, runtime.NumCPU() is used.
	NumWorkers int

	// BufferSize is the job channel buffer size.
	// Default: 100
	BufferSize int
}

// DefaultWorkerPoolConfig returns sensible defaults for the worker pool.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		NumWorkers: 0,
		BufferSize: 100,
	}
}

// Validate applies defaults.
func (c *WorkerPoolConfig) Validate() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = runtime.NumCPU()
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
}

// WithNumWorkers sets the number of workers.
func (c WorkerPoolConfig) WithNumWorkers(n int) WorkerPoolConfig {
	c.NumWorkers = n
	return c
}

// WithBufferSize sets the buffer size.
func (c WorkerPoolConfig) WithBufferSize(n int) WorkerPoolConfig {
	c.BufferSize = n
	return c
}

// WorkerPool is a Dispatcher backed by a fixed set of worker goroutines.
// When a limiter is supplied every task also holds a limiter slot while it runs.
type WorkerPool struct {
	config  WorkerPoolConfig
	limiter *concurrency.Limiter
	logger  *zap.Logger

	jobs     chan workerJob
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.RWMutex
	started  bool
	closed   bool

	processed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

type workerJob struct {
	ctx  context.Context
	task func(ctx context.Context)
}

// NewWorkerPool creates a worker pool. Call Start before submitting.
func NewWorkerPool(config WorkerPoolConfig, limiter *concurrency.Limiter, logger *zap.Logger) *WorkerPool {
	config.Validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		config:   config,
		limiter:  limiter,
		logger:   logger,
		jobs:     make(chan workerJob, config.BufferSize),
		stopping: make(chan struct{}),
	}
}

// Start launches the workers. When ctx is done the pool shuts down as if
// Close had been called: new tasks are refused and queued tasks still run.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.closed {
		return
	}
	wp.started = true

	wp.logger.Debug("starting worker pool",
		zap.Int("workers", wp.config.NumWorkers),
		zap.Int("buffer_size", wp.config.BufferSize),
	)
	for i := 0; i < wp.config.NumWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(int64(i + 1))
	}

	go func() {
		select {
		case <-ctx.Done():
			wp.logger.Debug("worker pool stopping due to context cancellation")
			wp.shutdown()
		case <-wp.stopping:
		}
	}()
}

func (wp *WorkerPool) worker(id int64) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.run(job, id)
	}
	wp.logger.Debug("worker stopping, job channel closed", zap.Int64("worker_id", id))
}

func (wp *WorkerPool) run(job workerJob, id int64) {
	if wp.limiter != nil {
		if err := wp.limiter.Acquire(job.ctx); err != nil {
			wp.rejected.Add(1)
			wp.logger.Warn("worker could not acquire limiter slot, running task anyway",
				zap.Int64("worker_id", id), zap.Error(err))
		} else {
			defer wp.limiter.Release()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			wp.panics.Add(1)
			wp.logger.Error("task panicked", zap.Int64("worker_id", id), zap.Any("panic", r))
		}
	}()

	job.task(WithWorkerID(job.ctx, id))
	wp.processed.Add(1)
}

// Submit queues task for a worker. It blocks while the buffer is full and
// fails with ErrPoolClosed once the pool shuts down. An accepted task always runs.
func (wp *WorkerPool) Submit(ctx context.Context, task func(ctx context.Context)) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	switch {
	case wp.closed:
		return ErrPoolClosed
	case !wp.started:
		return ErrPoolNotStarted
	}

	select {
	case <-wp.stopping:
		return ErrPoolClosed
	default:
	}

	select {
	case wp.jobs <- workerJob{ctx: ctx, task: task}:
		return nil
	case <-wp.stopping:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets queued tasks drain and waits for the workers.
func (wp *WorkerPool) Close() {
	wp.shutdown()
	wp.wg.Wait()
}

// shutdown releases blocked submitters, then closes the job channel. Workers
// exit once it is empty.
func (wp *WorkerPool) shutdown() {
	wp.stopOnce.Do(func() { close(wp.stopping) })

	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return
	}
	wp.closed = true
	close(wp.jobs)
}

// Stats returns the number of completed tasks and of limiter refusals.
func (wp *WorkerPool) Stats() (processed, rejected int64) {
	return wp.processed.Load(), wp.rejected.Load()
}

// Config returns the worker pool configuration.
func (wp *WorkerPool) Config() WorkerPoolConfig {
	return wp.config
}

var _ Dispatcher = (*WorkerPool)(nil)
