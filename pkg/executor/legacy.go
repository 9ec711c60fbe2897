package executor

import (
	"context"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// LegacyExecutor drives lists that target a legacy single-component service.
//
// Such targets predate null skipping: the first nil result ends processing
// and becomes the result. One-way results are not pinned to the input, so a
// one-way call that ends in nil yields nil.
type LegacyExecutor struct {
	processors []processor.Processor
	event      *event.Event
	template   processor.Template
}

// NewLegacyExecutor creates a legacy executor.
func NewLegacyExecutor(processors []processor.Processor, ev *event.Event, template processor.Template) *LegacyExecutor {
	if template == nil {
		template = processor.Direct
	}
	return &LegacyExecutor{processors: processors, event: ev, template: template}
}

// Execute implements Executor.
func (e *LegacyExecutor) Execute(ctx context.Context) (*event.Event, error) {
	callCtx := withNested(ctx)

	current := e.event
	for i, p := range e.processors {
		out, err := invoke(callCtx, e.template, p, i, current)
		if err != nil {
			return nil, err
		}
		if event.IsPending(out) {
			return nil, processor.NewProcessingError(processor.NameOf(p), i, correlationOf(current), ErrUnexpectedPending)
		}
		if out == nil {
			return nil, nil
		}
		current = out
	}
	return current, nil
}

var _ Executor = (*LegacyExecutor)(nil)
