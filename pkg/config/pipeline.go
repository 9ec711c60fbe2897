package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/chain"
	"github.com/wehubfusion/Relay/pkg/processor"
	"github.com/wehubfusion/Relay/pkg/processors/foreach"
	"github.com/wehubfusion/Relay/pkg/processors/schema"
	"github.com/wehubfusion/Relay/pkg/processors/script"
	"github.com/wehubfusion/Relay/pkg/processors/strings"
)

// Stage types accepted in the pipeline section.
const (
	StageStrings = "strings"
	StageScript  = "script"
	StageSchema  = "schema"
	StageForEach = "foreach"
)

// StageConfig describes one pipeline step.
type StageConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// strings stages
	Operation string         `yaml:"operation"`
	Params    map[string]any `yaml:"params"`

	// script stages; File is read when Source is empty
	Source   string        `yaml:"source"`
	File     string        `yaml:"file"`
	Function string        `yaml:"function"`
	Timeout  time.Duration `yaml:"timeout"`
	PoolSize int           `yaml:"pool_size"`
	MaxReuse int           `yaml:"max_reuse"`
	Strict   bool          `yaml:"strict"`

	// schema stages
	Schema        map[string]any `yaml:"schema"`
	ApplyDefaults bool           `yaml:"apply_defaults"`
	Prune         bool           `yaml:"prune"`

	// foreach stages run Stages once per array element
	Strategy      string        `yaml:"strategy"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Stages        []StageConfig `yaml:"stages"`
}

// NestFunc builds the inner chain of a foreach stage.
type NestFunc func(name string, stages []StageConfig) (*chain.Chain, error)

// NewProcessor builds the processor a stage describes. nest is only used by
// foreach stages.
func (s StageConfig) NewProcessor(logger *zap.Logger, nest NestFunc) (processor.Processor, error) {
	switch s.Type {
	case StageStrings:
		p, err := strings.FromConfig(strings.Config{Operation: s.Operation, Params: s.Params})
		if err != nil {
			return nil, err
		}
		if s.Name != "" {
			p = processor.WithName(s.Name, p)
		}
		return p, nil
	case StageScript:
		src := s.Source
		if src == "" && s.File != "" {
			data, err := os.ReadFile(s.File)
			if err != nil {
				return nil, fmt.Errorf("read script: %w", err)
			}
			src = string(data)
		}
		cfg := script.DefaultConfig(src).WithStrict(s.Strict).WithLogger(logger)
		if s.Name != "" {
			cfg = cfg.WithName(s.Name)
		}
		if s.Function != "" {
			cfg = cfg.WithFunction(s.Function)
		}
		if s.Timeout > 0 {
			cfg = cfg.WithTimeout(s.Timeout)
		}
		if s.PoolSize > 0 {
			cfg = cfg.WithPoolSize(s.PoolSize)
		}
		if s.MaxReuse > 0 {
			cfg = cfg.WithMaxReuse(s.MaxReuse)
		}
		return script.New(cfg)
	case StageSchema:
		if len(s.Schema) == 0 {
			return nil, errors.New("schema stage needs a schema")
		}
		return schema.FromMap(s.Name, s.Schema, schema.Options{ApplyDefaults: s.ApplyDefaults, Prune: s.Prune})
	case StageForEach:
		if len(s.Stages) == 0 {
			return nil, errors.New("foreach stage needs inner stages")
		}
		if nest == nil {
			return nil, errors.New("foreach stages cannot be built here")
		}
		name := s.Name
		if name == "" {
			name = StageForEach
		}
		inner, err := nest(name+"/each", s.Stages)
		if err != nil {
			return nil, err
		}
		return foreach.New(inner, foreach.Config{
			Name:          s.Name,
			Strategy:      foreach.Strategy(s.Strategy),
			MaxConcurrent: s.MaxConcurrent,
		})
	case "":
		return nil, errors.New("stage type cannot be empty")
	}
	return nil, fmt.Errorf("unsupported stage type %q", s.Type)
}

// BuildChain assembles the pipeline section into a chain driven by the
// configured template and executor factory. The returned close function
// releases the dispatcher and is never nil. A nil tracer disables span
// creation per processor.
func (c *Config) BuildChain(ctx context.Context, logger *zap.Logger, tracer trace.Tracer) (*chain.Chain, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	factory, closeFn := c.NewExecutorFactory(ctx, logger)
	template := c.NewTemplate(logger, tracer)

	var nest NestFunc
	nest = func(name string, stages []StageConfig) (*chain.Chain, error) {
		elements := make([]any, 0, len(stages))
		for i, stage := range stages {
			p, err := stage.NewProcessor(logger, nest)
			if err != nil {
				return nil, fmt.Errorf("%s stage %d (%s): %w", name, i, stage.Name, err)
			}
			elements = append(elements, p)
		}
		return chain.NewBuilder(name).
			WithTemplate(template).
			WithExecutorFactory(factory).
			WithLogger(logger).
			Chain(elements...).
			Build()
	}

	ch, err := nest(c.Service, c.Pipeline)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return ch, closeFn, nil
}
