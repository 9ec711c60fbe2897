package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics tracks limiter usage.
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter bounds the number of concurrently running tasks with a semaphore.
// An optional circuit breaker refuses new tasks while the work keeps failing.
type Limiter struct {
	sem            chan struct{}
	active         int64
	acquired       int64
	released       int64
	rejected       int64
	peak           int64
	waitNs         int64
	circuitBreaker *CircuitBreaker
}

// NewLimiter creates a limiter allowing maxConcurrent tasks at once, without a circuit breaker.
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithCircuitBreaker(maxConcurrent, nil)
}

// NewLimiterWithCircuitBreaker creates a limiter guarded by cb. A nil cb disables the guard.
func NewLimiterWithCircuitBreaker(maxConcurrent int, cb *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:            make(chan struct{}, maxConcurrent),
		circuitBreaker: cb,
	}
}

// Capacity returns the maximum number of concurrent slots.
func (l *Limiter) Capacity() int { return cap(l.sem) }

// Acquire waits for a slot. It fails when ctx is done or the circuit breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.circuitBreaker != nil && l.circuitBreaker.IsOpen() {
		atomic.AddInt64(&l.rejected, 1)
		return ErrCircuitOpen
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.waitNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.acquired, 1)
		l.updatePeak(atomic.AddInt64(&l.active, 1))
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&l.rejected, 1)
		return ctx.Err()
	}
}

// Release returns a slot to the limiter.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
		atomic.AddInt64(&l.released, 1)
	default:
	}
}

// Go acquires a slot and runs fn on a new goroutine, releasing the slot when fn returns.
// The outcome of fn is recorded on the circuit breaker.
func (l *Limiter) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer l.Release()
		l.record(fn(ctx))
	}()
	return nil
}

// GoSync runs fn on the calling goroutine while holding a slot.
func (l *Limiter) GoSync(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn(ctx)
	l.record(err)
	return err
}

func (l *Limiter) record(err error) {
	if l.circuitBreaker != nil {
		l.circuitBreaker.Record(err)
	}
}

// CurrentActive returns the number of slots in use.
func (l *Limiter) CurrentActive() int64 {
	return atomic.LoadInt64(&l.active)
}

// GetMetrics returns a snapshot of the limiter metrics.
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&l.acquired),
		TotalReleased:   atomic.LoadInt64(&l.released),
		TotalRejected:   atomic.LoadInt64(&l.rejected),
		PeakConcurrent:  atomic.LoadInt64(&l.peak),
		TotalWaitTimeNs: atomic.LoadInt64(&l.waitNs),
	}
}

// GetAverageWaitTime returns the mean time spent waiting for a slot.
func (l *Limiter) GetAverageWaitTime() time.Duration {
	m := l.GetMetrics()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

// GetCircuitBreakerState returns the breaker state, or "disabled" when there is none.
func (l *Limiter) GetCircuitBreakerState() string {
	if l.circuitBreaker == nil {
		return "disabled"
	}
	if l.circuitBreaker.IsOpen() {
		return StateOpen.String()
	}
	return l.circuitBreaker.GetState().String()
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.peak)
		if current <= peak || atomic.CompareAndSwapInt64(&l.peak, peak, current) {
			return
		}
	}
}
