package processor

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Relay/pkg/event"
)

// Processor is one pipeline step.
//
// Process returns the event to hand to the next step. Returning a nil event
// with a nil error is legal and means "no event". Returning event.Pending
// means the processor has handed off to another goroutine and will report
// through the event's CompletionHandler.
type Processor interface {
	Process(ctx context.Context, ev *event.Event) (*event.Event, error)
}

// Func adapts an ordinary function to Processor.
type Func func(ctx context.Context, ev *event.Event) (*event.Event, error)

// Process implements Processor.
func (f Func) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return f(ctx, ev)
}

// Interceptor is a step that owns the remainder of the pipeline.
//
// The builder supplies next; the interceptor decides whether and when to call
// it. Declining to call next stops everything after the interceptor, and the
// interceptor's own return value becomes the result. A nil result from next
// may be propagated upward as-is.
//
// next runs blocking, so work after it always sees the tail's result, unless
// the interceptor implements HandOffAware.
type Interceptor interface {
	Intercept(ctx context.Context, ev *event.Event, next Processor) (*event.Event, error)
}

// HandOffAware is implemented by interceptors that let next hand off. When
// HandlesHandOff reports true next keeps the event's non-blocking permission
// and may return event.Pending, which the interceptor must return unchanged;
// any work it still has to do belongs in a completion handler it installs on
// the event given to next.
type HandOffAware interface {
	HandlesHandOff() bool
}

// HandlesHandOff reports whether i opted in through HandOffAware.
func HandlesHandOff(i Interceptor) bool {
	h, ok := i.(HandOffAware)
	return ok && h.HandlesHandOff()
}

// InterceptorFunc adapts an ordinary function to Interceptor.
type InterceptorFunc func(ctx context.Context, ev *event.Event, next Processor) (*event.Event, error)

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(ctx context.Context, ev *event.Event, next Processor) (*event.Event, error) {
	return f(ctx, ev, next)
}

// Named is implemented by steps that have a display name.
type Named interface {
	Name() string
}

// NameOf returns a display name for a processor, interceptor or chain.
func NameOf(v any) string {
	switch n := v.(type) {
	case nil:
		return "<nil>"
	case Named:
		return n.Name()
	case fmt.Stringer:
		return n.String()
	}
	return fmt.Sprintf("%T", v)
}

// Passthrough returns its input unchanged.
var Passthrough Processor = passthrough{}

type passthrough struct{}

func (passthrough) Process(_ context.Context, ev *event.Event) (*event.Event, error) {
	return ev, nil
}

func (passthrough) Name() string { return "passthrough" }

// named attaches a display name to a Processor.
type named struct {
	Processor
	name string
}

func (n named) Name() string { return n.name }

// WithName gives p a display name. Lifecycle methods of p stay reachable through Unwrap.
func WithName(name string, p Processor) Processor {
	return named{Processor: p, name: name}
}

// Unwrap returns the processor wrapped by WithName, or p itself.
func Unwrap(p Processor) Processor {
	if n, ok := p.(named); ok {
		return n.Processor
	}
	return p
}
