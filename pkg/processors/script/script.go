// Package script provides a processor that runs a JavaScript function over
// each event using pooled goja runtimes.
//
// The script defines a global function, by default process(payload, event).
// Its return value becomes the new payload; returning null or undefined
// yields no event. event carries id, correlationId and metadata.
package script

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// Processor runs a script function for every event.
type Processor struct {
	config Config
	pool   *vmPool
}

// New compiles cfg.Source. VMs are created on demand, or up front by Initialise.
func New(cfg Config) (*Processor, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	program, err := goja.Compile(cfg.Name, cfg.Source, cfg.Strict)
	if err != nil {
		return nil, &ScriptError{Type: ErrorTypeSyntax, Script: cfg.Name, Message: err.Error(), Err: err}
	}
	return &Processor{config: cfg, pool: newVMPool(program, cfg)}, nil
}

// Name returns the display name.
func (p *Processor) Name() string { return p.config.Name }

// Initialise creates one VM so that setup failures surface before traffic.
func (p *Processor) Initialise(context.Context) error {
	return p.pool.warm(1)
}

// Dispose releases all VMs. Later calls to Process fail with ErrClosed.
func (p *Processor) Dispose(context.Context) error {
	p.pool.close()
	return nil
}

// Stats returns pool statistics.
func (p *Processor) Stats() PoolStats { return p.pool.stats() }

// Process calls the script function with the event payload.
func (p *Processor) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if ev == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	v, err := p.pool.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("script %s: acquire VM: %w", p.config.Name, err)
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		v.rt.Interrupt(ctx.Err())
	})
	result, callErr := p.call(v, ev)
	healthy := true
	if !stop() {
		<-fired
		v.rt.ClearInterrupt()
		healthy = false
	}
	p.pool.release(v, healthy)

	if callErr != nil {
		return nil, wrapError(p.config.Name, callErr)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return ev.WithPayload(result.Export()), nil
}

func (p *Processor) call(v *vm, ev *event.Event) (goja.Value, error) {
	payload := ev.Payload()
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	metadata := make(map[string]any, len(ev.MetadataMap()))
	for k, val := range ev.MetadataMap() {
		metadata[k] = val
	}
	info := map[string]any{
		"id":              ev.ID(),
		"correlationId":   ev.CorrelationID(),
		"exchangePattern": ev.ExchangePattern().String(),
		"metadata":        metadata,
	}
	return v.fn(goja.Undefined(), v.rt.ToValue(payload), v.rt.ToValue(info))
}

var (
	_ processor.Processor   = (*Processor)(nil)
	_ processor.Initialiser = (*Processor)(nil)
	_ processor.Disposer    = (*Processor)(nil)
)
