package template

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// RetryConfig configures the Retry template.
type RetryConfig struct {
	// MaxAttempts bounds the number of calls, first call included. 0 means unbounded.
	MaxAttempts uint
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration
	// Multiplier grows the delay after each failure.
	Multiplier float64
	// MaxElapsedTime bounds the total time spent retrying.
	MaxElapsedTime time.Duration
	// Retryable decides whether a failure may be retried. Nil retries everything.
	Retryable func(error) bool
	// Logger receives a warning per retried failure.
	Logger *zap.Logger
}

// DefaultRetryConfig returns a configuration with three attempts and short delays.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		MaxElapsedTime:  30 * time.Second,
	}
}

// WithMaxAttempts sets the number of attempts.
func (c RetryConfig) WithMaxAttempts(n uint) RetryConfig {
	c.MaxAttempts = n
	return c
}

// WithInitialInterval sets the first backoff delay.
func (c RetryConfig) WithInitialInterval(d time.Duration) RetryConfig {
	c.InitialInterval = d
	return c
}

// WithRetryable sets the retry predicate.
func (c RetryConfig) WithRetryable(fn func(error) bool) RetryConfig {
	c.Retryable = fn
	return c
}

// WithLogger sets the logger.
func (c RetryConfig) WithLogger(logger *zap.Logger) RetryConfig {
	c.Logger = logger
	return c
}

// Retry calls the processor again with the same event after a failure, using
// exponential backoff. Hand-offs and successful calls are never retried.
func Retry(cfg RetryConfig) processor.Template {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (*event.Event, error) {
		name := processor.NameOf(p)
		attempt := 0

		b := backoff.NewExponentialBackOff()
		if cfg.InitialInterval > 0 {
			b.InitialInterval = cfg.InitialInterval
		}
		if cfg.MaxInterval > 0 {
			b.MaxInterval = cfg.MaxInterval
		}
		if cfg.Multiplier > 0 {
			b.Multiplier = cfg.Multiplier
		}

		opts := []backoff.RetryOption{
			backoff.WithBackOff(b),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn("retrying processor",
					zap.String("processor", name),
					zap.Int("attempt", attempt),
					zap.Duration("backoff", next),
					zap.Error(err))
			}),
		}
		if cfg.MaxAttempts > 0 {
			opts = append(opts, backoff.WithMaxTries(cfg.MaxAttempts))
		}
		if cfg.MaxElapsedTime > 0 {
			opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
		}

		return backoff.Retry(ctx, func() (*event.Event, error) {
			attempt++
			out, err := p.Process(ctx, ev)
			if err != nil && cfg.Retryable != nil && !cfg.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return out, err
		}, opts...)
	})
}
