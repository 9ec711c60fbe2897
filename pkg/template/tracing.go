package template

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// TracerName is the instrumentation name used when no tracer is supplied.
const TracerName = "relay/processor"

// Tracing starts one span per processor call. A nil tracer uses the global provider.
func Tracing(tracer trace.Tracer) processor.Template {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (*event.Event, error) {
		ctx, span := tracer.Start(ctx, "processor.Process",
			trace.WithAttributes(attribute.String("processor.name", processor.NameOf(p))))
		defer span.End()

		if ev != nil {
			span.SetAttributes(
				attribute.String("event.id", ev.ID()),
				attribute.String("event.correlation_id", ev.CorrelationID()),
				attribute.String("event.exchange_pattern", ev.ExchangePattern().String()),
			)
		}

		start := time.Now()
		out, err := p.Process(ctx, ev)
		span.SetAttributes(attribute.Int64("processing.duration_ms", time.Since(start).Milliseconds()))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		switch {
		case event.IsPending(out):
			span.SetAttributes(attribute.Bool("processor.handed_off", true))
		case out == nil:
			span.SetAttributes(attribute.Bool("processor.null_result", true))
		}
		span.SetStatus(codes.Ok, "")
		return out, nil
	})
}
