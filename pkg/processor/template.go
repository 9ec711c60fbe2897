package processor

import (
	"context"

	"github.com/wehubfusion/Relay/pkg/event"
)

// Template wraps every single-processor call made by an executor.
// Implementations add cross-cutting behaviour such as error translation,
// retries or tracing, and must eventually call p.Process exactly once per
// successful attempt.
type Template interface {
	Execute(ctx context.Context, p Processor, ev *event.Event) (*event.Event, error)
}

// TemplateFunc adapts an ordinary function to Template.
type TemplateFunc func(ctx context.Context, p Processor, ev *event.Event) (*event.Event, error)

// Execute implements Template.
func (f TemplateFunc) Execute(ctx context.Context, p Processor, ev *event.Event) (*event.Event, error) {
	return f(ctx, p, ev)
}

// Direct is the template that simply invokes the processor.
var Direct Template = TemplateFunc(func(ctx context.Context, p Processor, ev *event.Event) (*event.Event, error) {
	return p.Process(ctx, ev)
})
