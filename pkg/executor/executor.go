package executor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

var (
	// ErrUnexpectedPending is returned when a processor hands off while the
	// event gives it nowhere to report completion.
	ErrUnexpectedPending = errors.New("processor returned pending outside non-blocking execution")

	// ErrDispatchFailed is delivered when the continuation cannot be scheduled.
	ErrDispatchFailed = errors.New("failed to dispatch continuation")
)

// Executor drives one event through a flat processor list.
type Executor interface {
	Execute(ctx context.Context) (*event.Event, error)
}

// Strategy identifies an executor implementation.
type Strategy int

const (
	StrategyBlocking Strategy = iota
	StrategyNonBlocking
	StrategyLegacy
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case StrategyBlocking:
		return "blocking"
	case StrategyNonBlocking:
		return "non-blocking"
	case StrategyLegacy:
		return "legacy"
	}
	return "unknown"
}

// Select decides which strategy applies to one invocation.
func Select(legacyTarget bool, ev *event.Event) Strategy {
	switch {
	case legacyTarget:
		return StrategyLegacy
	case ev.CanHandOff():
		return StrategyNonBlocking
	default:
		return StrategyBlocking
	}
}

// Factory creates executors for individual invocations.
type Factory struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewFactory creates a factory whose non-blocking executors hand off to dispatcher.
// A nil dispatcher falls back to a GoDispatcher; a nil logger to zap.NewNop().
func NewFactory(dispatcher Dispatcher, logger *zap.Logger) *Factory {
	if dispatcher == nil {
		dispatcher = NewGoDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{dispatcher: dispatcher, logger: logger}
}

// Create returns an executor ready to drive ev through processors.
func (f *Factory) Create(processors []processor.Processor, ev *event.Event, template processor.Template, legacyTarget bool) Executor {
	if template == nil {
		template = processor.Direct
	}
	switch Select(legacyTarget, ev) {
	case StrategyLegacy:
		return NewLegacyExecutor(processors, ev, template)
	case StrategyNonBlocking:
		return NewNonBlockingExecutor(processors, ev, template, f.dispatcher, f.logger)
	default:
		return NewBlockingExecutor(processors, ev, template)
	}
}

// Dispatcher returns the dispatcher used for hand-offs.
func (f *Factory) Dispatcher() Dispatcher { return f.dispatcher }

var defaultFactory = NewFactory(nil, nil)

// DefaultFactory returns the shared factory backed by a GoDispatcher.
func DefaultFactory() *Factory { return defaultFactory }

type nestedKey struct{}

// withNested marks ctx as belonging to a processor call made by an executor.
func withNested(ctx context.Context) context.Context {
	if IsNested(ctx) {
		return ctx
	}
	return context.WithValue(ctx, nestedKey{}, true)
}

// IsNested reports whether ctx was handed to a processor by an executor, in
// which case the result must flow onward unmodified instead of being pinned
// to the input for one-way callers.
func IsNested(ctx context.Context) bool {
	nested, _ := ctx.Value(nestedKey{}).(bool)
	return nested
}

// invoke runs one processor through the template and attributes failures to it.
func invoke(ctx context.Context, template processor.Template, p processor.Processor, position int, ev *event.Event) (*event.Event, error) {
	out, err := template.Execute(ctx, p, ev)
	if err != nil {
		correlationID := ""
		if ev != nil {
			correlationID = ev.CorrelationID()
		}
		return nil, processor.NewProcessingError(processor.NameOf(p), position, correlationID, err)
	}
	return out, nil
}

// pinned applies the one-way rule: one-way callers get their input back.
func pinned(nested bool, input, result *event.Event) *event.Event {
	if !nested && input != nil && input.IsOneWay() {
		return input
	}
	return result
}
