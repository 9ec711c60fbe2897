package template

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// Logging logs every processor call with its duration. Successful calls are
// logged at debug level, failures at warn.
func Logging(logger *zap.Logger) processor.Template {
	if logger == nil {
		logger = zap.NewNop()
	}
	return processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (*event.Event, error) {
		name := processor.NameOf(p)
		start := time.Now()
		out, err := p.Process(ctx, ev)
		elapsed := time.Since(start)

		fields := []zap.Field{
			zap.String("processor", name),
			zap.Duration("duration", elapsed),
		}
		if ev != nil {
			fields = append(fields,
				zap.String("event_id", ev.ID()),
				zap.String("correlation_id", ev.CorrelationID()))
		}

		switch {
		case err != nil:
			logger.Warn("processor failed", append(fields, zap.Error(err))...)
		case event.IsPending(out):
			logger.Debug("processor handed off", fields...)
		case out == nil:
			logger.Debug("processor returned no event", fields...)
		default:
			logger.Debug("processor completed", fields...)
		}
		return out, err
	})
}
