// Package template provides execution templates: hooks that wrap every
// single-processor call made by a chain or executor.
//
// Templates compose. Compose(Recovery(), Tracing(tracer), Logging(logger))
// recovers panics outermost and logs innermost.
package template

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// ErrPanic is wrapped by the error Recovery returns for a panicking processor.
var ErrPanic = errors.New("processor panicked")

// Compose nests templates. The first template is outermost. Nil entries are skipped.
func Compose(templates ...processor.Template) processor.Template {
	var active []processor.Template
	for _, t := range templates {
		if t != nil {
			active = append(active, t)
		}
	}
	switch len(active) {
	case 0:
		return processor.Direct
	case 1:
		return active[0]
	}
	return processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (*event.Event, error) {
		return run(ctx, active, p, ev)
	})
}

func run(ctx context.Context, templates []processor.Template, p processor.Processor, ev *event.Event) (*event.Event, error) {
	if len(templates) == 1 {
		return templates[0].Execute(ctx, p, ev)
	}
	inner := processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		return run(ctx, templates[1:], p, ev)
	})
	return templates[0].Execute(ctx, processor.WithName(processor.NameOf(p), inner), ev)
}

// Recovery turns a processor panic into an error wrapping ErrPanic.
func Recovery() processor.Template {
	return processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (out *event.Event, err error) {
		defer func() {
			if r := recover(); r != nil {
				out = nil
				err = fmt.Errorf("%w: %s: %v\n%s", ErrPanic, processor.NameOf(p), r, debug.Stack())
			}
		}()
		return p.Process(ctx, ev)
	})
}
