package chain

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/executor"
	"github.com/wehubfusion/Relay/pkg/processor"
)

var (
	// ErrEmptyElement is returned when a nil element is configured.
	ErrEmptyElement = errors.New("chain element is nil")

	// ErrUnsupportedElement is returned for elements that are neither
	// processors, interceptors, builders nor chains.
	ErrUnsupportedElement = errors.New("unsupported chain element")

	// ErrDuplicateProcessor is returned when one instance is configured twice in a chain.
	ErrDuplicateProcessor = errors.New("processor instance appears more than once in chain")
)

// Builder assembles configured elements into a Chain.
//
// Accepted elements are processor.Processor, processor.Interceptor, *Builder
// (built when the outer builder is built) and *Chain. Builders and chains
// become nested chains, which the enclosing chain treats as one plain step.
type Builder struct {
	name         string
	elements     []any
	template     processor.Template
	logger       *zap.Logger
	factory      *executor.Factory
	legacyTarget bool
}

// NewBuilder creates a builder for a chain with the given display name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Chain appends elements in order.
func (b *Builder) Chain(elements ...any) *Builder {
	b.elements = append(b.elements, elements...)
	return b
}

// WithTemplate sets the execution template wrapping every processor call.
func (b *Builder) WithTemplate(t processor.Template) *Builder {
	b.template = t
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithExecutorFactory sets the factory used to create executors per event.
func (b *Builder) WithExecutorFactory(f *executor.Factory) *Builder {
	b.factory = f
	return b
}

// WithLegacyTarget marks the chain as driving a legacy single-component service.
func (b *Builder) WithLegacyTarget(legacy bool) *Builder {
	b.legacyTarget = legacy
	return b
}

// Build assembles the chain. Nested builders are built first and inherit
// this builder's template, logger and executor factory unless they set their own.
func (b *Builder) Build() (*Chain, error) {
	template := b.template
	if template == nil {
		template = processor.Direct
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := b.factory
	if factory == nil {
		factory = executor.DefaultFactory()
	}

	members := make([]processor.Processor, 0, len(b.elements))
	nodes := make([]node, 0, len(b.elements))
	seen := make(map[any]int)

	for i, el := range b.elements {
		n, member, err := b.resolve(el, template, logger, factory)
		if err != nil {
			return nil, fmt.Errorf("chain %q element %d: %w", b.name, i, err)
		}
		if key, ok := identity(el); ok {
			if first, dup := seen[key]; dup {
				return nil, fmt.Errorf("chain %q elements %d and %d (%s): %w",
					b.name, first, i, processor.NameOf(el), ErrDuplicateProcessor)
			}
			seen[key] = i
		}
		members = append(members, member)
		nodes = append(nodes, n)
	}

	c := &Chain{
		name:         b.name,
		members:      members,
		run:          nest(nodes, template, factory, b.legacyTarget),
		template:     template,
		factory:      factory,
		logger:       logger.With(zap.String("chain", b.name)),
		legacyTarget: b.legacyTarget,
	}
	c.logger.Debug("chain built",
		zap.Int("members", len(c.members)),
		zap.Int("top_level_steps", len(c.run)))
	return c, nil
}

// From builds an unnamed chain from elements.
func From(elements ...any) (*Chain, error) {
	return NewBuilder("").Chain(elements...).Build()
}

// resolve tags one configured element as plain or intercepting.
func (b *Builder) resolve(el any, template processor.Template, logger *zap.Logger, factory *executor.Factory) (node, processor.Processor, error) {
	switch v := el.(type) {
	case nil:
		return node{}, nil, ErrEmptyElement
	case *Builder:
		if v == nil {
			return node{}, nil, ErrEmptyElement
		}
		sub := *v
		if sub.template == nil {
			sub.template = template
		}
		if sub.logger == nil {
			sub.logger = logger
		}
		if sub.factory == nil {
			sub.factory = factory
		}
		nested, err := sub.Build()
		if err != nil {
			return node{}, nil, err
		}
		return plainNode(nested), nested, nil
	case *Chain:
		if v == nil {
			return node{}, nil, ErrEmptyElement
		}
		return plainNode(v), v, nil
	case processor.Interceptor:
		if isNilPointer(v) {
			return node{}, nil, ErrEmptyElement
		}
		return interceptingNode(v), memberOf(v), nil
	case processor.Processor:
		if isNilPointer(v) {
			return node{}, nil, ErrEmptyElement
		}
		return plainNode(v), v, nil
	}
	return node{}, nil, fmt.Errorf("%w: %T", ErrUnsupportedElement, el)
}

// memberOf exposes an interceptor in the member list. Interceptors that are
// also processors appear as themselves.
func memberOf(i processor.Interceptor) processor.Processor {
	if p, ok := i.(processor.Processor); ok {
		return p
	}
	return interceptorMember{Interceptor: i}
}

// interceptorMember presents a bare interceptor as a member with its original
// display name and lifecycle. Processing it outside the chain is a pass-through.
type interceptorMember struct {
	processor.Interceptor
}

func (m interceptorMember) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return m.Intercept(ctx, ev, processor.Passthrough)
}

func (m interceptorMember) Name() string { return processor.NameOf(m.Interceptor) }

func (m interceptorMember) Initialise(ctx context.Context) error {
	return processor.InitialiseIfNeeded(ctx, m.Interceptor)
}

func (m interceptorMember) Start(ctx context.Context) error {
	return processor.StartIfNeeded(ctx, m.Interceptor)
}

func (m interceptorMember) Stop(ctx context.Context) error {
	return processor.StopIfNeeded(ctx, m.Interceptor)
}

func (m interceptorMember) Dispose(ctx context.Context) error {
	return processor.DisposeIfNeeded(ctx, m.Interceptor)
}

// identity returns a comparable key for pointer-typed elements.
func identity(el any) (any, bool) {
	if p, ok := el.(processor.Processor); ok {
		el = processor.Unwrap(p)
	}
	if el == nil || reflect.TypeOf(el).Kind() != reflect.Pointer {
		return nil, false
	}
	return el, true
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
