package message

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
)

// Handler processes an event decoded from an inbound message.
type Handler func(ctx context.Context, ev *event.Event) error

// Middleware is a function that wraps a handler to add additional functionality
type Middleware func(Handler) Handler

// Chain chains multiple middlewares together
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware recovers from panics in message handlers
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev *event.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// LoggingMiddleware logs message processing using structured logging
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, ev *event.Event) error {
			subject, _ := ev.Metadata(MetadataSubject)
			fields := []zap.Field{
				zap.String("subject", subject),
				zap.String("correlation_id", ev.CorrelationID()),
			}

			logger.Debug("Received message", fields...)
			err := next(ctx, ev)
			if err != nil {
				logger.Error("Error handling message", append(fields, zap.Error(err))...)
			}
			return err
		}
	}
}

// ValidationMiddleware rejects events without a payload
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev *event.Event) error {
			if ev == nil {
				return fmt.Errorf("event is nil")
			}
			if ev.Payload() == nil {
				return fmt.Errorf("event %s has no payload", ev.CorrelationID())
			}
			return next(ctx, ev)
		}
	}
}
