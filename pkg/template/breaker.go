package template

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Relay/pkg/concurrency"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// Breaker fails calls fast with concurrency.ErrCircuitOpen while cb is open
// and feeds every call outcome back into cb. A hand-off counts as success.
func Breaker(cb *concurrency.CircuitBreaker) processor.Template {
	return processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (*event.Event, error) {
		if !cb.Allow() {
			return nil, fmt.Errorf("%s: %w", processor.NameOf(p), concurrency.ErrCircuitOpen)
		}
		out, err := p.Process(ctx, ev)
		cb.Record(err)
		return out, err
	})
}
