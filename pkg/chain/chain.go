package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/executor"
	"github.com/wehubfusion/Relay/pkg/processor"
)

var (
	// ErrChainStopped is returned by Process after the chain has been started and stopped.
	ErrChainStopped = errors.New("chain is stopped")

	// ErrChainDisposed is returned by Process after the chain has been disposed.
	ErrChainDisposed = errors.New("chain is disposed")
)

// Chain is a composite processor built by a Builder.
//
// A Chain may process independent events concurrently. Lifecycle methods are
// expected to be called by a single coordinator.
type Chain struct {
	name         string
	members      []processor.Processor
	run          []processor.Processor
	template     processor.Template
	factory      *executor.Factory
	logger       *zap.Logger
	legacyTarget bool

	mu      sync.RWMutex
	state   State
	started bool
}

// Name returns the chain's display name.
func (c *Chain) Name() string {
	if c.name == "" {
		return "chain"
	}
	return c.name
}

// Processors returns a copy of the chain's direct members in configured order.
// Nested chains appear as single members.
func (c *Chain) Processors() []processor.Processor {
	out := make([]processor.Processor, len(c.members))
	copy(out, c.members)
	return out
}

// Process drives ev through the chain. An empty chain returns ev unchanged.
//
// Events that allow non-blocking processing and carry a completion handler
// may come back as event.Pending, with the outcome delivered to the handler.
func (c *Chain) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if err := c.accepting(); err != nil {
		return nil, err
	}
	if len(c.run) == 0 {
		return ev, nil
	}
	return c.factory.Create(c.run, ev, c.template, c.legacyTarget).Execute(ctx)
}

func (c *Chain) accepting() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.state == StateDisposed:
		return fmt.Errorf("%s: %w", c.Name(), ErrChainDisposed)
	case c.state == StateStopped && c.started:
		return fmt.Errorf("%s: %w", c.Name(), ErrChainStopped)
	}
	return nil
}

// String renders the chain as an indented tree of its steps.
func (c *Chain) String() string {
	var sb strings.Builder
	c.describe(&sb, 0)
	return strings.TrimSuffix(sb.String(), "\n")
}

func (c *Chain) describe(sb *strings.Builder, depth int) {
	fmt.Fprintf(sb, "%schain %q\n", indent(depth), c.Name())
	for _, step := range c.run {
		describeStep(sb, step, depth+1)
	}
}

func describeStep(sb *strings.Builder, step processor.Processor, depth int) {
	switch s := processor.Unwrap(step).(type) {
	case *Chain:
		s.describe(sb, depth)
	case *intercepted:
		fmt.Fprintf(sb, "%s%s (intercepting)\n", indent(depth), s.Name())
		if seq, ok := s.next.(*sequence); ok {
			for _, inner := range seq.steps {
				describeStep(sb, inner, depth+1)
			}
		}
	default:
		fmt.Fprintf(sb, "%s%s\n", indent(depth), processor.NameOf(step))
	}
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

var _ processor.Processor = (*Chain)(nil)
