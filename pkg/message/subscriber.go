package message

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
)

// Subscriber is the part of *nats.Conn used to receive events.
type Subscriber interface {
	ChanQueueSubscribe(subj, group string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// SourceConfig configures a NATS event source.
type SourceConfig struct {
	Subject    string
	QueueGroup string
	BufferSize int
	Logger     *zap.Logger
	// Middleware runs on every decoded event before it is queued.
	Middleware []Middleware
}

// Source subscribes to cfg.Subject and feeds decoded events into the returned
// channel until ctx is done, after which the subscription is removed and the
// channel closed. Messages that cannot be decoded or are rejected by the
// middleware are logged and dropped.
func Source(ctx context.Context, sub Subscriber, cfg SourceConfig) (<-chan *event.Event, error) {
	if sub == nil {
		return nil, errors.New("subscriber cannot be nil")
	}
	if cfg.Subject == "" {
		return nil, errors.New("subject cannot be empty")
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	msgs := make(chan *nats.Msg, cfg.BufferSize)
	subscription, err := sub.ChanQueueSubscribe(cfg.Subject, cfg.QueueGroup, msgs)
	if err != nil {
		return nil, err
	}

	out := make(chan *event.Event, cfg.BufferSize)
	enqueue := Chain(cfg.Middleware...)(func(ctx context.Context, ev *event.Event) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		defer close(out)
		defer func() {
			if subscription != nil && subscription.IsValid() {
				if err := subscription.Unsubscribe(); err != nil {
					logger.Warn("Failed to unsubscribe", zap.String("subject", cfg.Subject), zap.Error(err))
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				ev, err := FromNATS(msg)
				if err != nil {
					logger.Warn("Dropping undecodable message", zap.String("subject", msg.Subject), zap.Error(err))
					continue
				}
				if err := enqueue(ctx, ev); err != nil && ctx.Err() == nil {
					logger.Warn("Dropping rejected message",
						zap.String("correlation_id", ev.CorrelationID()),
						zap.Error(err))
				}
			}
		}
	}()

	logger.Info("Subscribed to events",
		zap.String("subject", cfg.Subject),
		zap.String("queue_group", cfg.QueueGroup))
	return out, nil
}
