// Package runner drives a processor, usually a chain, over a stream of events
// with a fixed pool of workers and reports each outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	internaltracing "github.com/wehubfusion/Relay/internal/tracing"
	relayerrors "github.com/wehubfusion/Relay/pkg/errors"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// TracerName is the instrumentation name of runner spans.
const TracerName = "relay/runner"

// reportTimeout bounds a single report so that it runs even after the run context ends.
const reportTimeout = 5 * time.Second

// Reporter receives the outcome of every event the runner processes.
type Reporter interface {
	ReportSuccess(ctx context.Context, in, out *event.Event) error
	ReportError(ctx context.Context, in *event.Event, err error) error
}

// Runner processes events from a channel with a fixed number of workers.
// Events that allow non-blocking processing may be handed off by the
// processor; the runner waits for their completion within the process timeout.
type Runner struct {
	processor       processor.Processor
	source          <-chan *event.Event
	numWorkers      int
	processTimeout  time.Duration
	logger          *zap.Logger
	reporter        Reporter
	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
}

// NewRunner creates a Runner reading from source.
// numWorkers specifies the number of worker goroutines.
// processTimeout is the maximum time allowed for processing a single event, hand-offs included.
// reporter is optional; without one outcomes are only logged.
// tracingConfig is optional - if nil, no tracing will be set up. If provided, tracing will be automatically configured and cleaned up.
func NewRunner(proc processor.Processor, source <-chan *event.Event, numWorkers int, processTimeout time.Duration, logger *zap.Logger, reporter Reporter, tracingConfig *TracingConfig) (*Runner, error) {
	if proc == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if numWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if processTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	runner := &Runner{
		processor:      proc,
		source:         source,
		numWorkers:     numWorkers,
		processTimeout: processTimeout,
		logger:         logger,
		reporter:       reporter,
		tracer:         otel.Tracer(TracerName),
	}

	if tracingConfig != nil {
		shutdown, err := internaltracing.SetupTracing(context.Background(), tracingConfig.provider(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			runner.tracingShutdown = shutdown
			runner.tracer = otel.Tracer(TracerName)
			logger.Info("Tracing setup complete",
				zap.String("service", tracingConfig.ServiceName),
				zap.String("endpoint", tracingConfig.OTLPEndpoint))
		}
	}

	return runner, nil
}

// WithTracer replaces the tracer used for runner spans.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	if tracer != nil {
		r.tracer = tracer
	}
	return r
}

// Close gracefully shuts down the runner and cleans up resources including tracing.
func (r *Runner) Close() error {
	if r.tracingShutdown == nil {
		return nil
	}
	err := internaltracing.ShutdownTracing(r.tracingShutdown, r.logger)
	r.tracingShutdown = nil
	return err
}

// Run starts the workers and blocks until the source is closed and drained,
// or until ctx is cancelled, in which case ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.numWorkers; i++ {
		workerID := i
		g.Go(func() error {
			return r.worker(gctx, workerID)
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Info("Runner stopped due to context cancellation")
		return err
	}
	r.logger.Info("Runner completed successfully")
	return nil
}

func (r *Runner) worker(ctx context.Context, workerID int) error {
	r.logger.Debug("Worker started", zap.Int("workerID", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("workerID", workerID))

	for {
		select {
		case ev, ok := <-r.source:
			if !ok {
				return nil
			}
			r.processEvent(ctx, workerID, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Process runs a single event through the processor outside of Run, waiting
// for hand-offs, and reports the outcome.
func (r *Runner) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return r.processEvent(ctx, -1, ev)
}

func (r *Runner) processEvent(ctx context.Context, workerID int, ev *event.Event) (*event.Event, error) {
	if ev == nil {
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "runner.processEvent",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("event.id", ev.ID()),
			attribute.String("event.correlation_id", ev.CorrelationID()),
			attribute.String("event.exchange_pattern", ev.ExchangePattern().String()),
			attribute.Bool("event.non_blocking", ev.AllowsNonBlocking()),
		))
	defer span.End()

	processCtx, cancel := context.WithTimeout(ctx, r.processTimeout)
	defer cancel()

	start := time.Now()
	r.logger.Debug("Worker processing event",
		zap.Int("workerID", workerID),
		zap.String("correlationID", ev.CorrelationID()))

	out, err := r.invoke(processCtx, ev)
	processingTime := time.Since(start)
	span.SetAttributes(attribute.Int64("processing.duration_ms", processingTime.Milliseconds()))

	reportCtx, reportCancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer reportCancel()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Error processing event",
			zap.Int("workerID", workerID),
			zap.Duration("processingTime", processingTime),
			zap.String("correlationID", ev.CorrelationID()),
			zap.Error(err))

		if r.reporter != nil {
			if reportErr := r.reporter.ReportError(reportCtx, ev, err); reportErr != nil {
				r.logger.Error("Error reporting failure",
					zap.Int("workerID", workerID),
					zap.String("correlationID", ev.CorrelationID()),
					zap.Error(reportErr))
			}
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "Event processed successfully")
	span.SetAttributes(attribute.Bool("result.null", out == nil))
	r.logger.Debug("Successfully processed event",
		zap.Int("workerID", workerID),
		zap.String("correlationID", ev.CorrelationID()),
		zap.Duration("processingTime", processingTime),
		zap.Bool("nullResult", out == nil))

	if r.reporter != nil {
		if reportErr := r.reporter.ReportSuccess(reportCtx, ev, out); reportErr != nil {
			r.logger.Error("Error reporting success",
				zap.Int("workerID", workerID),
				zap.String("correlationID", ev.CorrelationID()),
				zap.Error(reportErr))
		}
	}
	return out, nil
}

// invoke calls the processor and, when it hands off, waits for the outcome
// delivered to the event's completion handler.
func (r *Runner) invoke(ctx context.Context, ev *event.Event) (*event.Event, error) {
	var future *event.Future
	if ev.AllowsNonBlocking() {
		future = event.NewFuture()
		ev = ev.WithCompletionHandler(tee(future, ev.CompletionHandler()))
	}

	out, err := r.processor.Process(ctx, ev)
	if err != nil || !event.IsPending(out) {
		return out, err
	}
	if future == nil {
		return nil, relayerrors.NewError(relayerrors.CodeProcessing,
			fmt.Sprintf("processor %s handed off a blocking event", processor.NameOf(r.processor)), nil)
	}

	out, err = future.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, relayerrors.NewError(relayerrors.CodeTimeout, "waiting for handed-off event", err)
	}
	return out, err
}

// tee delivers an outcome to the future and then to the caller's own handler.
func tee(future *event.Future, h event.CompletionHandler) event.CompletionHandler {
	if h == nil {
		return future
	}
	return event.HandlerFuncs{
		Completion: func(ev *event.Event) {
			future.OnCompletion(ev)
			h.OnCompletion(ev)
		},
		Failure: func(err error) {
			future.OnFailure(err)
			h.OnFailure(err)
		},
	}
}
