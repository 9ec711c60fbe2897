package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// Options control what the processor does besides validating.
type Options struct {
	// ApplyDefaults fills missing fields that declare a default.
	ApplyDefaults bool
	// Prune removes object fields the schema does not declare.
	Prune bool
}

// Processor validates event payloads against a schema. Payloads may be JSON
// text ([]byte or string) or already decoded values. The output payload is
// the normalised JSON document as []byte.
type Processor struct {
	name string
	root *compiled
	opts Options
}

// New compiles root into a processor.
func New(name string, root *Property, opts Options) (*Processor, error) {
	c, err := compile(root, "root")
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "schema"
	}
	return &Processor{name: name, root: c, opts: opts}, nil
}

// Parse builds a processor from a JSON schema document.
func Parse(name string, definition []byte, opts Options) (*Processor, error) {
	var root Property
	if err := json.Unmarshal(definition, &root); err != nil {
		return nil, &SchemaError{Path: "root", Message: "malformed definition", Err: err}
	}
	return New(name, &root, opts)
}

// FromMap builds a processor from a decoded definition, such as a YAML
// mapping from a pipeline file.
func FromMap(name string, definition map[string]any, opts Options) (*Processor, error) {
	raw, err := json.Marshal(definition)
	if err != nil {
		return nil, &SchemaError{Path: "root", Message: "definition is not JSON encodable", Err: err}
	}
	return Parse(name, raw, opts)
}

// Name returns the processor's display name.
func (p *Processor) Name() string { return p.name }

// Validate checks a decoded JSON value and returns its violations.
func (p *Processor) Validate(value any) []Violation {
	return p.root.validate(value, "root", nil)
}

// Process validates the payload of ev. A nil event passes through.
func (p *Processor) Process(_ context.Context, ev *event.Event) (*event.Event, error) {
	if ev == nil {
		return nil, nil
	}
	value, err := decode(ev.Payload())
	if err != nil {
		return nil, err
	}
	if p.opts.ApplyDefaults {
		value = p.root.applyDefaults(value)
	}
	if violations := p.Validate(value); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	if p.opts.Prune {
		value = p.root.prune(value)
	}

	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return ev.WithPayload(out), nil
}

// decode returns a private JSON-shaped copy of payload.
func decode(payload any) (any, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("payload is not JSON encodable: %w", err)
		}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return value, nil
}

var _ processor.Processor = (*Processor)(nil)
