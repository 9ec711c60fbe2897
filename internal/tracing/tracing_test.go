package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TracingConfig)
		wantErr bool
	}{
		{"default", func(*TracingConfig) {}, false},
		{"no service", func(c *TracingConfig) { c.ServiceName = "" }, true},
		{"no endpoint", func(c *TracingConfig) { c.OTLPEndpoint = "" }, true},
		{"negative ratio", func(c *TracingConfig) { c.SampleRatio = -0.1 }, true},
		{"ratio above one", func(c *TracingConfig) { c.SampleRatio = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("relay")
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestNewResource(t *testing.T) {
	res, err := NewResource(context.Background(), DefaultConfig("relay-test"))
	require.NoError(t, err)
	assert.Contains(t, res.Attributes(), semconv.ServiceName("relay-test"))
	assert.Contains(t, res.Attributes(), semconv.DeploymentEnvironment("development"))
}

func TestSetupTracing_RejectsInvalidConfig(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{}, nil)
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestSetupTracing_InstallsProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	shutdown, err := SetupTracing(context.Background(), DefaultConfig("relay-test"), logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())

	require.NoError(t, ShutdownTracing(shutdown, logger))
	assert.Equal(t, 1, logs.FilterMessage("Tracing setup completed successfully").Len())
	assert.Equal(t, 1, logs.FilterMessage("Tracing shutdown completed successfully").Len())
}

func TestShutdownTracing(t *testing.T) {
	assert.NoError(t, ShutdownTracing(nil, nil))

	boom := errors.New("boom")
	err := ShutdownTracing(func(context.Context) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)
}
