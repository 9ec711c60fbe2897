package executor

import (
	"context"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// BlockingExecutor runs every processor on the calling goroutine.
//
// Each processor receives the most recent non-nil event; the result is the
// value returned by the last processor invoked, which may be nil. The first
// failure stops the loop.
type BlockingExecutor struct {
	processors []processor.Processor
	event      *event.Event
	template   processor.Template
}

// NewBlockingExecutor creates a blocking executor.
func NewBlockingExecutor(processors []processor.Processor, ev *event.Event, template processor.Template) *BlockingExecutor {
	if template == nil {
		template = processor.Direct
	}
	return &BlockingExecutor{processors: processors, event: ev, template: template}
}

// Execute implements Executor.
func (e *BlockingExecutor) Execute(ctx context.Context) (*event.Event, error) {
	nested := IsNested(ctx)
	callCtx := withNested(ctx)

	current := e.event
	var last *event.Event
	for i, p := range e.processors {
		out, err := invoke(callCtx, e.template, p, i, current)
		if err != nil {
			return nil, err
		}
		if event.IsPending(out) {
			return nil, processor.NewProcessingError(processor.NameOf(p), i, correlationOf(current), ErrUnexpectedPending)
		}
		last = out
		if last != nil {
			current = last
		}
	}
	return pinned(nested, e.event, last), nil
}

func correlationOf(ev *event.Event) string {
	if ev == nil {
		return ""
	}
	return ev.CorrelationID()
}

var _ Executor = (*BlockingExecutor)(nil)
