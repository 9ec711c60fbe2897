package runner

import internaltracing "github.com/wehubfusion/Relay/internal/tracing"

// TracingConfig describes the tracer provider a Runner installs for its
// lifetime. The zero value is invalid; start from DefaultTracingConfig.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRatio    float64
}

// DefaultTracingConfig exports every span to a local collector.
func DefaultTracingConfig(serviceName string) TracingConfig {
	d := internaltracing.DefaultConfig(serviceName)
	return TracingConfig{
		ServiceName:    d.ServiceName,
		ServiceVersion: d.ServiceVersion,
		Environment:    d.Environment,
		OTLPEndpoint:   d.OTLPEndpoint,
		SampleRatio:    d.SampleRatio,
	}
}

// WithEndpoint returns a copy exporting to endpoint (host:port).
func (c TracingConfig) WithEndpoint(endpoint string) TracingConfig {
	c.OTLPEndpoint = endpoint
	return c
}

// WithSampleRatio returns a copy sampling the given fraction of root spans.
func (c TracingConfig) WithSampleRatio(ratio float64) TracingConfig {
	c.SampleRatio = ratio
	return c
}

// WithEnvironment returns a copy tagged with the deployment environment.
func (c TracingConfig) WithEnvironment(env string) TracingConfig {
	c.Environment = env
	return c
}

// Validate reports settings the tracer provider would reject.
func (c TracingConfig) Validate() error {
	return c.provider().Validate()
}

func (c TracingConfig) provider() internaltracing.TracingConfig {
	return internaltracing.TracingConfig(c)
}
