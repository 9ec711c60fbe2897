// Package config loads the engine configuration from YAML with environment
// overrides, and turns it into the executor, template and tracing components
// it describes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/Relay/pkg/concurrency"
)

// Environment variables read on top of the concurrency package's own.
const (
	EnvConfigFile      = "RELAY_CONFIG"
	EnvServiceName     = "RELAY_SERVICE_NAME"
	EnvOTLPEndpoint    = "RELAY_OTLP_ENDPOINT"
	EnvTracingEnabled  = "RELAY_TRACING_ENABLED"
	EnvCallbackSubject = "RELAY_CALLBACK_SUBJECT"
	EnvProcessTimeout  = "RELAY_PROCESS_TIMEOUT"
	EnvSentryDSN       = "SENTRY_DSN"
	EnvNATSURL         = "RELAY_NATS_URL"
)

// Config is the engine configuration.
type Config struct {
	Service  string         `yaml:"service"`
	Runner   RunnerConfig   `yaml:"runner"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Callback CallbackConfig `yaml:"callback"`
	Sentry   SentryConfig   `yaml:"sentry"`
	NATS     NATSConfig     `yaml:"nats"`
	Pipeline []StageConfig  `yaml:"pipeline"`
}

// RunnerConfig configures the event runner.
type RunnerConfig struct {
	Workers        int           `yaml:"workers"`
	BufferSize     int           `yaml:"buffer_size"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// DispatchConfig configures where non-blocking continuations run.
type DispatchConfig struct {
	Mode          concurrency.DispatchMode `yaml:"mode"`
	Workers       int                      `yaml:"workers"`
	BufferSize    int                      `yaml:"buffer_size"`
	MaxConcurrent int                      `yaml:"max_concurrent"`
}

// RetryConfig configures the retry template. MaxAttempts 0 disables retries.
type RetryConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

// BreakerConfig configures the circuit breaker template. FailureThreshold 0 disables it.
type BreakerConfig struct {
	FailureThreshold  int64         `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	HalfOpenSuccesses int64         `yaml:"half_open_successes"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

// CallbackConfig configures NATS result publishing.
type CallbackConfig struct {
	Subject    string        `yaml:"subject"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// SentryConfig enables error capture in Sentry. An empty DSN disables it.
type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// NATSConfig configures the NATS connection events arrive on and results leave by.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Subject       string        `yaml:"subject"`
	QueueGroup    string        `yaml:"queue_group"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	Token         string        `yaml:"token"`
}

// Default returns the configuration used when no file is given, seeded from
// concurrency.LoadConfig.
func Default() *Config {
	cc := concurrency.LoadConfig()
	return &Config{
		Service: "relay",
		Runner: RunnerConfig{
			Workers:        cc.RunnerWorkers,
			BufferSize:     cc.RunnerWorkers * 2,
			ProcessTimeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Mode:          cc.DispatchMode,
			Workers:       cc.EffectiveCPUs,
			BufferSize:    100,
			MaxConcurrent: cc.MaxConcurrent,
		},
		Retry: RetryConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			MaxElapsedTime:  30 * time.Second,
		},
		Breaker: BreakerConfig{
			ResetTimeout:      30 * time.Second,
			HalfOpenSuccesses: 5,
		},
		Tracing: TracingConfig{
			ServiceVersion: "1.0.0",
			Environment:    "development",
			OTLPEndpoint:   "127.0.0.1:4318",
			SampleRatio:    1.0,
		},
		Callback: CallbackConfig{
			Subject:    "relay.results",
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
		Sentry: SentryConfig{
			Environment: "development",
			SampleRate:  1.0,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "relay",
			Subject:       "relay.events",
			QueueGroup:    "relay",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path falls back to $RELAY_CONFIG; if that is unset too
// only defaults and environment are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return parse(data, os.LookupEnv)
}

// Parse decodes YAML over the defaults and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.LookupEnv)
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables win over file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvServiceName); ok && v != "" {
		c.Service = v
	}
	if v, ok := lookup(concurrency.EnvRunnerWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", concurrency.EnvRunnerWorkers, err)
		}
		c.Runner.Workers = n
	}
	if v, ok := lookup(concurrency.EnvMaxConcurrent); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", concurrency.EnvMaxConcurrent, err)
		}
		c.Dispatch.MaxConcurrent = n
	}
	if v, ok := lookup(concurrency.EnvDispatchMode); ok && v != "" {
		c.Dispatch.Mode = concurrency.ParseDispatchMode(v)
	}
	if v, ok := lookup(EnvProcessTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProcessTimeout, err)
		}
		c.Runner.ProcessTimeout = d
	}
	if v, ok := lookup(EnvTracingEnabled); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTracingEnabled, err)
		}
		c.Tracing.Enabled = enabled
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		c.Tracing.OTLPEndpoint = v
	}
	if v, ok := lookup(EnvCallbackSubject); ok && v != "" {
		c.Callback.Subject = v
	}
	if v, ok := lookup(EnvSentryDSN); ok && v != "" {
		c.Sentry.DSN = v
	}
	if v, ok := lookup(EnvNATSURL); ok && v != "" {
		c.NATS.URL = v
	}
	return nil
}

// Validate checks the configuration and normalises the dispatch mode.
func (c *Config) Validate() error {
	var errs []error
	if c.Service == "" {
		errs = append(errs, errors.New("service name cannot be empty"))
	}
	if c.Runner.Workers <= 0 {
		errs = append(errs, errors.New("runner.workers must be greater than 0"))
	}
	if c.Runner.BufferSize < 0 {
		errs = append(errs, errors.New("runner.buffer_size cannot be negative"))
	}
	if c.Runner.ProcessTimeout <= 0 {
		errs = append(errs, errors.New("runner.process_timeout must be greater than 0"))
	}
	if c.Dispatch.MaxConcurrent < 0 {
		errs = append(errs, errors.New("dispatch.max_concurrent cannot be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v outside [0, 1]", c.Tracing.SampleRatio))
	}
	if c.Callback.Subject == "" {
		errs = append(errs, errors.New("callback.subject cannot be empty"))
	}
	if c.Callback.MaxRetries < 0 {
		errs = append(errs, errors.New("callback.max_retries cannot be negative"))
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sentry.sample_rate %v outside [0, 1]", c.Sentry.SampleRate))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url cannot be empty"))
	}
	if c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject cannot be empty"))
	}
	c.Dispatch.Mode = concurrency.ParseDispatchMode(string(c.Dispatch.Mode))
	if err := multierr.Combine(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
