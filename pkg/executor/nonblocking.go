package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// NonBlockingExecutor runs processors on the calling goroutine until one of
// them hands off, then returns event.Pending and lets the processor's
// completion resume the remaining processors on a Dispatcher worker.
//
// Each processor receives the current event re-bound to a continuation
// handler. When ev.CanHandOff() a processor may hand off by returning
// event.Pending and later calling OnCompletion or OnFailure on
// ev.CompletionHandler() from any goroutine.
//
// When the run completes without a hand-off the result is returned directly
// and the event's own handler is not called. After a hand-off, the event's
// handler receives exactly one outcome.
type NonBlockingExecutor struct {
	processors []processor.Processor
	event      *event.Event
	template   processor.Template
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewNonBlockingExecutor creates a non-blocking executor.
func NewNonBlockingExecutor(processors []processor.Processor, ev *event.Event, template processor.Template, dispatcher Dispatcher, logger *zap.Logger) *NonBlockingExecutor {
	if template == nil {
		template = processor.Direct
	}
	if dispatcher == nil {
		dispatcher = NewGoDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NonBlockingExecutor{
		processors: processors,
		event:      ev,
		template:   template,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute implements Executor.
func (e *NonBlockingExecutor) Execute(ctx context.Context) (*event.Event, error) {
	if Select(false, e.event) != StrategyNonBlocking {
		return NewBlockingExecutor(e.processors, e.event, e.template).Execute(ctx)
	}

	r := &nonBlockingRun{
		NonBlockingExecutor: e,
		nested:              IsNested(ctx),
		resumeCtx:           context.WithoutCancel(ctx),
		userHandler:         e.event.CompletionHandler(),
		handler:             event.Once(e.event.CompletionHandler()),
	}

	out, err := r.loop(withNested(ctx), 0, e.event, nil)
	if err != nil {
		return nil, err
	}
	if event.IsPending(out) {
		return event.Pending, nil
	}
	return pinned(r.nested, e.event, r.restore(out)), nil
}

// nonBlockingRun is the state of one Execute call shared with its continuations.
type nonBlockingRun struct {
	*NonBlockingExecutor
	nested      bool
	resumeCtx   context.Context
	userHandler event.CompletionHandler
	handler     *event.OnceHandler
}

// loop runs processors[start:] and returns event.Pending if one of them handed off.
func (r *nonBlockingRun) loop(ctx context.Context, start int, current, last *event.Event) (*event.Event, error) {
	for i := start; i < len(r.processors); i++ {
		p := r.processors[i]
		cont := &continuation{run: r, position: i, current: current, name: processor.NameOf(p)}

		out, err := invoke(ctx, r.template, p, i, current.WithCompletionHandler(cont))
		if err == nil && event.IsPending(out) {
			r.logger.Debug("processor handed off",
				zap.String("processor", cont.name),
				zap.Int("position", i),
				zap.String("correlation_id", current.CorrelationID()))
			return event.Pending, nil
		}
		if !cont.state.CompareAndSwap(armed, claimedSync) {
			// the processor already reported through its continuation, which now owns the run
			r.logger.Warn("processor returned after reporting completion; synchronous result ignored",
				zap.String("processor", cont.name),
				zap.Int("position", i))
			return event.Pending, nil
		}
		if err != nil {
			return nil, err
		}
		last = out
		if last != nil {
			current = last
		}
	}
	return last, nil
}

// resume continues the run on a dispatcher worker.
func (r *nonBlockingRun) resume(ctx context.Context, start int, current, last *event.Event) {
	out, err := r.loop(withNested(ctx), start, current, last)
	switch {
	case err != nil:
		r.handler.OnFailure(err)
	case event.IsPending(out):
	default:
		r.handler.OnCompletion(pinned(r.nested, r.event, r.restore(out)))
	}
}

// restore re-attaches the caller's handler to a result still bound to a continuation.
func (r *nonBlockingRun) restore(ev *event.Event) *event.Event {
	if ev == nil {
		return nil
	}
	if _, ok := ev.CompletionHandler().(*continuation); ok {
		return ev.WithCompletionHandler(r.userHandler)
	}
	return ev
}

const (
	armed int32 = iota
	claimedSync
	claimedAsync
)

// continuation is the completion handler given to one processor call.
type continuation struct {
	run      *nonBlockingRun
	position int
	current  *event.Event
	name     string
	state    atomic.Int32
}

// OnCompletion schedules the processors after position.
func (c *continuation) OnCompletion(ev *event.Event) {
	if !c.state.CompareAndSwap(armed, claimedAsync) {
		c.run.logger.Warn("dropping completion already accounted for",
			zap.String("processor", c.name), zap.Int("position", c.position))
		return
	}

	next := c.current
	if ev != nil {
		next = ev
	}
	err := c.run.dispatcher.Submit(c.run.resumeCtx, func(ctx context.Context) {
		c.run.resume(ctx, c.position+1, next, ev)
	})
	if err != nil {
		c.run.logger.Error("failed to dispatch continuation",
			zap.String("processor", c.name), zap.Int("position", c.position), zap.Error(err))
		c.run.handler.OnFailure(fmt.Errorf("%w after %s: %w", ErrDispatchFailed, c.name, err))
	}
}

// OnFailure ends the run with err.
func (c *continuation) OnFailure(err error) {
	if !c.state.CompareAndSwap(armed, claimedAsync) {
		c.run.logger.Warn("dropping failure already accounted for",
			zap.String("processor", c.name), zap.Int("position", c.position), zap.Error(err))
		return
	}
	c.run.handler.OnFailure(processor.NewProcessingError(c.name, c.position, c.current.CorrelationID(), err))
}

var (
	_ Executor                = (*NonBlockingExecutor)(nil)
	_ event.CompletionHandler = (*continuation)(nil)
)
