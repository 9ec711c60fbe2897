package executor

import (
	"context"
	"sync/atomic"

	"github.com/wehubfusion/Relay/pkg/concurrency"
)

// Dispatcher schedules a task onto some goroutine other than the caller's.
// Submit must not run task on the calling goroutine.
type Dispatcher interface {
	Submit(ctx context.Context, task func(ctx context.Context)) error
}

type workerIDKey struct{}

// WithWorkerID tags ctx as running on the given dispatcher worker.
func WithWorkerID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

// WorkerID returns the dispatcher worker running ctx, if any.
func WorkerID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(workerIDKey{}).(int64)
	return id, ok
}

// GoDispatcher runs every task on a fresh goroutine.
type GoDispatcher struct {
	seq atomic.Int64
}

// NewGoDispatcher creates a GoDispatcher.
func NewGoDispatcher() *GoDispatcher {
	return &GoDispatcher{}
}

// Submit implements Dispatcher.
func (d *GoDispatcher) Submit(ctx context.Context, task func(ctx context.Context)) error {
	taskCtx := WithWorkerID(ctx, d.seq.Add(1))
	go task(taskCtx)
	return nil
}

// LimiterDispatcher runs tasks on fresh goroutines bounded by a concurrency.Limiter.
// Submit blocks while the limiter is full and fails if the limiter refuses the task.
type LimiterDispatcher struct {
	limiter *concurrency.Limiter
	seq     atomic.Int64
}

// NewLimiterDispatcher creates a dispatcher bounded by limiter.
func NewLimiterDispatcher(limiter *concurrency.Limiter) *LimiterDispatcher {
	return &LimiterDispatcher{limiter: limiter}
}

// Submit implements Dispatcher.
func (d *LimiterDispatcher) Submit(ctx context.Context, task func(ctx context.Context)) error {
	taskCtx := WithWorkerID(ctx, d.seq.Add(1))
	return d.limiter.Go(taskCtx, func(ctx context.Context) error {
		task(ctx)
		return nil
	})
}

var (
	_ Dispatcher = (*GoDispatcher)(nil)
	_ Dispatcher = (*LimiterDispatcher)(nil)
)
