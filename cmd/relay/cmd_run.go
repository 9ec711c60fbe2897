package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	relaynats "github.com/wehubfusion/Relay/internal/nats"
	"github.com/wehubfusion/Relay/pkg/concurrency"
	"github.com/wehubfusion/Relay/pkg/config"
	"github.com/wehubfusion/Relay/pkg/message"
	"github.com/wehubfusion/Relay/pkg/runner"
)

// chainTracerName is the instrumentation name of per-processor spans.
const chainTracerName = "relay/chain"

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume events and run them through the pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := flags.logger()
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, flags.configPath, logger)
		},
	}
}

func run(ctx context.Context, configPath string, logger *zap.Logger) error {
	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("service", cfg.Service))

	var tracer trace.Tracer
	if cfg.TracingSetup() != nil {
		tracer = otel.Tracer(chainTracerName)
	}
	pipeline, closeDispatcher, err := cfg.BuildChain(ctx, logger, tracer)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer closeDispatcher()

	if err := pipeline.Initialise(ctx); err != nil {
		return err
	}
	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		if err := pipeline.Stop(shutdownCtx); err != nil {
			logger.Warn("Failed to stop pipeline", zap.Error(err))
		}
		if err := pipeline.Dispose(shutdownCtx); err != nil {
			logger.Warn("Failed to dispose pipeline", zap.Error(err))
		}
	}()

	conn, err := cfg.ConnectNATS(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := relaynats.Close(conn); err != nil {
			logger.Warn("Failed to close NATS connection", zap.Error(err))
		}
	}()

	reporter, err := cfg.NewReporter(conn, logger)
	if err != nil {
		return err
	}
	if f, ok := reporter.(interface{ Flush() bool }); ok {
		defer f.Flush()
	}

	events, err := message.Source(ctx, conn, message.SourceConfig{
		Subject:    cfg.NATS.Subject,
		QueueGroup: cfg.NATS.QueueGroup,
		BufferSize: cfg.Runner.BufferSize,
		Logger:     logger,
		Middleware: []message.Middleware{
			message.RecoveryMiddleware(),
			message.LoggingMiddleware(logger),
			message.ValidationMiddleware(),
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.NATS.Subject, err)
	}

	r, err := runner.NewRunner(pipeline, events, cfg.Runner.Workers, cfg.Runner.ProcessTimeout, logger, reporter, cfg.TracingSetup())
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	logger.Info("Relay started",
		zap.String("subject", cfg.NATS.Subject),
		zap.Int("workers", cfg.Runner.Workers),
		zap.Int("stages", len(cfg.Pipeline)))

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Relay stopped")
	return nil
}
