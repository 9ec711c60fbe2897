// Package foreach splits an array payload into one event per element, runs
// each through an inner processor and collects the results.
package foreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// Strategy defines how elements are processed
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Process elements one by one
	StrategyParallel   Strategy = "parallel"   // Process elements concurrently
)

// MetadataIndex is set on every element event to its position in the array.
const MetadataIndex = "foreach.index"

// Config holds configuration for the splitter
type Config struct {
	Name          string
	Strategy      Strategy
	MaxConcurrent int // Max concurrent elements in parallel mode (0 = runtime.NumCPU())
}

// Processor runs inner once per element of an array payload. Elements whose
// inner result is nil are dropped from the output. The first failure stops
// the iteration and is returned with the element index.
type Processor struct {
	config Config
	inner  processor.Processor
}

// New creates a splitter around inner.
func New(inner processor.Processor, config Config) (*Processor, error) {
	if inner == nil {
		return nil, errors.New("inner processor cannot be nil")
	}
	switch config.Strategy {
	case "":
		config.Strategy = StrategySequential
	case StrategySequential, StrategyParallel:
	default:
		return nil, fmt.Errorf("unknown strategy %q", config.Strategy)
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	if config.Name == "" {
		config.Name = "foreach"
	}
	return &Processor{config: config, inner: inner}, nil
}

// Name returns the processor's display name.
func (p *Processor) Name() string { return p.config.Name }

// Inner returns the processor applied to each element.
func (p *Processor) Inner() processor.Processor { return p.inner }

// Initialise initialises the inner processor.
func (p *Processor) Initialise(ctx context.Context) error {
	return processor.InitialiseIfNeeded(ctx, p.inner)
}

// Start starts the inner processor.
func (p *Processor) Start(ctx context.Context) error {
	return processor.StartIfNeeded(ctx, p.inner)
}

// Stop stops the inner processor.
func (p *Processor) Stop(ctx context.Context) error {
	return processor.StopIfNeeded(ctx, p.inner)
}

// Dispose disposes the inner processor.
func (p *Processor) Dispose(ctx context.Context) error {
	return processor.DisposeIfNeeded(ctx, p.inner)
}

// Process splits ev's payload. A []any payload is used as is; JSON text is
// decoded and must hold an array, in which case the output is JSON text too.
func (p *Processor) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if ev == nil {
		return nil, nil
	}
	items, fromJSON, err := elements(ev.Payload())
	if err != nil {
		return nil, err
	}

	results := make([]*event.Event, len(items))
	run := func(ctx context.Context, i int) error {
		// Elements always run blocking; a hand-off cannot be joined here.
		in := ev.WithPayload(items[i]).
			WithNonBlocking(false).
			WithCompletionHandler(nil).
			WithMetadata(MetadataIndex, fmt.Sprint(i))
		out, err := p.inner.Process(ctx, in)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		results[i] = out
		return nil
	}

	if p.config.Strategy == StrategyParallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.config.MaxConcurrent)
		for i := range items {
			g.Go(func() error { return run(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := run(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	collected := make([]any, 0, len(results))
	for _, out := range results {
		if out == nil {
			continue
		}
		if event.IsPending(out) {
			return nil, fmt.Errorf("%s: inner processor handed off an element", p.config.Name)
		}
		collected = append(collected, value(out.Payload(), fromJSON))
	}

	if !fromJSON {
		return ev.WithPayload(collected), nil
	}
	data, err := json.Marshal(collected)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return ev.WithPayload(data), nil
}

func elements(payload any) ([]any, bool, error) {
	var raw []byte
	switch v := payload.(type) {
	case []any:
		return v, false, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, false, nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil, false, fmt.Errorf("payload of type %T is not an array", payload)
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("payload is not a JSON array: %w", err)
	}
	return items, true, nil
}

// value converts an element result for the collected array. JSON text
// results are embedded as JSON when they parse.
func value(payload any, fromJSON bool) any {
	if !fromJSON {
		return payload
	}
	if b, ok := payload.([]byte); ok {
		if json.Valid(b) {
			return json.RawMessage(b)
		}
		return string(b)
	}
	return payload
}

var (
	_ processor.Processor   = (*Processor)(nil)
	_ processor.Initialiser = (*Processor)(nil)
	_ processor.Starter     = (*Processor)(nil)
	_ processor.Stopper     = (*Processor)(nil)
	_ processor.Disposer    = (*Processor)(nil)
)
