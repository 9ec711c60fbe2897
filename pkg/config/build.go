package config

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	relaynats "github.com/wehubfusion/Relay/internal/nats"
	"github.com/wehubfusion/Relay/pkg/callback"
	"github.com/wehubfusion/Relay/pkg/concurrency"
	"github.com/wehubfusion/Relay/pkg/executor"
	"github.com/wehubfusion/Relay/pkg/processor"
	"github.com/wehubfusion/Relay/pkg/runner"
	"github.com/wehubfusion/Relay/pkg/template"
)

// NewDispatcher creates the dispatcher described by the dispatch section. The
// returned close function releases its workers and is never nil.
func (c *Config) NewDispatcher(ctx context.Context, logger *zap.Logger) (executor.Dispatcher, func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := c.Dispatch

	var limiter *concurrency.Limiter
	if d.MaxConcurrent > 0 {
		limiter = concurrency.NewLimiter(d.MaxConcurrent)
	}

	switch d.Mode {
	case concurrency.DispatchModeGoroutine:
		return executor.NewGoDispatcher(), func() {}
	case concurrency.DispatchModeLimited:
		if limiter == nil {
			limiter = concurrency.NewLimiter(concurrency.GetOptimalConcurrency(4))
		}
		return executor.NewLimiterDispatcher(limiter), func() {}
	default:
		pool := executor.NewWorkerPool(executor.WorkerPoolConfig{
			NumWorkers: d.Workers,
			BufferSize: d.BufferSize,
		}, limiter, logger)
		pool.Start(ctx)
		return pool, pool.Close
	}
}

// NewExecutorFactory creates an executor factory backed by NewDispatcher.
func (c *Config) NewExecutorFactory(ctx context.Context, logger *zap.Logger) (*executor.Factory, func()) {
	dispatcher, closeFn := c.NewDispatcher(ctx, logger)
	return executor.NewFactory(dispatcher, logger), closeFn
}

// NewCircuitBreaker returns the configured breaker, or nil when disabled.
func (c *Config) NewCircuitBreaker() *concurrency.CircuitBreaker {
	if c.Breaker.FailureThreshold <= 0 {
		return nil
	}
	return concurrency.NewCircuitBreakerWithConfig(concurrency.CircuitBreakerConfig{
		FailureThreshold:  c.Breaker.FailureThreshold,
		ResetTimeout:      c.Breaker.ResetTimeout,
		HalfOpenSuccesses: c.Breaker.HalfOpenSuccesses,
	})
}

// NewTemplate composes the execution template described by the configuration:
// recovery outermost, then tracing, circuit breaker, retry and logging.
// A nil tracer disables the tracing template.
func (c *Config) NewTemplate(logger *zap.Logger, tracer trace.Tracer) processor.Template {
	templates := []processor.Template{template.Recovery()}
	if tracer != nil {
		templates = append(templates, template.Tracing(tracer))
	}
	if cb := c.NewCircuitBreaker(); cb != nil {
		templates = append(templates, template.Breaker(cb))
	}
	if c.Retry.MaxAttempts > 1 {
		templates = append(templates, template.Retry(template.RetryConfig{
			MaxAttempts:     c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
			Multiplier:      c.Retry.Multiplier,
			MaxElapsedTime:  c.Retry.MaxElapsedTime,
			Logger:          logger,
		}))
	}
	if logger != nil {
		templates = append(templates, template.Logging(logger))
	}
	return template.Compose(templates...)
}

// TracingSetup returns the tracer provider settings, or nil when tracing is disabled.
func (c *Config) TracingSetup() *runner.TracingConfig {
	if !c.Tracing.Enabled {
		return nil
	}
	return &runner.TracingConfig{
		ServiceName:    c.Service,
		ServiceVersion: c.Tracing.ServiceVersion,
		Environment:    c.Tracing.Environment,
		OTLPEndpoint:   c.Tracing.OTLPEndpoint,
		SampleRatio:    c.Tracing.SampleRatio,
	}
}

// NewReporter creates the outcome reporter: results are published through pub
// and, when a Sentry DSN is configured, failures are also captured by Sentry.
func (c *Config) NewReporter(pub callback.Publisher, logger *zap.Logger) (runner.Reporter, error) {
	natsReporter, err := callback.NewNATSReporter(pub, &callback.Config{
		Subject:       c.Callback.Subject,
		MaxRetries:    c.Callback.MaxRetries,
		RetryDelay:    c.Callback.RetryDelay,
		EnableLogging: logger != nil,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create callback reporter: %w", err)
	}
	if c.Sentry.DSN == "" {
		return natsReporter, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         c.Sentry.DSN,
		Environment: c.Sentry.Environment,
		Release:     c.Tracing.ServiceVersion,
		ServerName:  c.Service,
		SampleRate:  c.Sentry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	return callback.MultiReporter{natsReporter, callback.NewSentryReporter(hub)}, nil
}

// ConnectionConfig returns the connection settings of the nats section.
func (c *Config) ConnectionConfig(logger *zap.Logger) *relaynats.ConnectionConfig {
	return &relaynats.ConnectionConfig{
		URL:           c.NATS.URL,
		Name:          c.NATS.Name,
		MaxReconnects: c.NATS.MaxReconnects,
		ReconnectWait: c.NATS.ReconnectWait,
		Timeout:       c.NATS.Timeout,
		Token:         c.NATS.Token,
		Logger:        logger,
	}
}

// ConnectNATS opens the configured NATS connection.
func (c *Config) ConnectNATS(ctx context.Context, logger *zap.Logger) (*nats.Conn, error) {
	return relaynats.Connect(ctx, c.ConnectionConfig(logger))
}
