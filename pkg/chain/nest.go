package chain

import (
	"context"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/executor"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// node is one configured element, tagged plain or intercepting.
type node struct {
	plain       processor.Processor
	interceptor processor.Interceptor
}

func plainNode(p processor.Processor) node { return node{plain: p} }

func interceptingNode(i processor.Interceptor) node { return node{interceptor: i} }

func (n node) intercepting() bool { return n.interceptor != nil }

// nest turns the configured nodes into the steps of the top-level run.
//
// Elements before the first interceptor stay top-level steps. Each
// interceptor owns, as next, a sequence of everything after it, in which a
// later interceptor in turn owns its own tail. An interceptor with nothing
// after it gets processor.Passthrough.
func nest(nodes []node, template processor.Template, factory *executor.Factory, legacyTarget bool) []processor.Processor {
	var tail []processor.Processor
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if !n.intercepting() {
			tail = append([]processor.Processor{n.plain}, tail...)
			continue
		}
		var next processor.Processor = processor.Passthrough
		if len(tail) > 0 {
			next = &sequence{steps: tail, template: template, factory: factory, legacyTarget: legacyTarget}
		}
		tail = []processor.Processor{&intercepted{interceptor: n.interceptor, next: next}}
	}
	return tail
}

// intercepted is an interceptor bound to the next edge the builder wired for it.
type intercepted struct {
	interceptor processor.Interceptor
	next        processor.Processor
}

func (s *intercepted) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if !ev.CanHandOff() || processor.HandlesHandOff(s.interceptor) {
		return s.interceptor.Intercept(ctx, ev, s.next)
	}

	// the tail runs blocking so the interceptor's after-step sees its result
	out, err := s.interceptor.Intercept(ctx, ev.WithNonBlocking(false), s.next)
	if err != nil || out == nil || event.IsPending(out) {
		return out, err
	}
	return out.WithNonBlocking(true).WithCompletionHandler(ev.CompletionHandler()), nil
}

func (s *intercepted) Name() string { return processor.NameOf(s.interceptor) }

// sequence is the remainder of a chain after an interceptor. It is driven by
// the same executors as the chain itself.
type sequence struct {
	steps        []processor.Processor
	template     processor.Template
	factory      *executor.Factory
	legacyTarget bool
}

func (s *sequence) Process(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return s.factory.Create(s.steps, ev, s.template, s.legacyTarget).Execute(ctx)
}

func (s *sequence) Name() string { return "sequence" }
