package executor

import (
	"context"
	"sync"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// call is one observed processor invocation.
type call struct {
	Name     string
	Input    string
	OnWorker bool
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) note(ctx context.Context, name string, ev *event.Event) {
	_, onWorker := WorkerID(ctx)
	input := "<nil>"
	if ev != nil {
		input = ev.PayloadString()
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{Name: name, Input: input, OnWorker: onWorker})
	r.mu.Unlock()
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recorder) names() []string {
	var names []string
	for _, c := range r.snapshot() {
		names = append(names, c.Name)
	}
	return names
}

// appending returns a processor that appends s to the payload.
func (r *recorder) appending(s string) processor.Processor {
	return processor.WithName(s, processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		r.note(ctx, s, ev)
		return ev.WithPayload(ev.PayloadString() + s), nil
	}))
}

// returningNil returns a processor that yields no event.
func (r *recorder) returningNil(name string) processor.Processor {
	return processor.WithName(name, processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		r.note(ctx, name, ev)
		return nil, nil
	}))
}

// failing returns a processor that fails with err.
func (r *recorder) failing(name string, err error) processor.Processor {
	return processor.WithName(name, processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		r.note(ctx, name, ev)
		return nil, err
	}))
}

// handingOff appends s on a separate goroutine when the event permits it,
// waiting for release (if non-nil) before reporting. Otherwise it appends synchronously.
func (r *recorder) handingOff(s string, release <-chan struct{}) processor.Processor {
	return processor.WithName(s, processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		if !ev.CanHandOff() {
			r.note(ctx, s, ev)
			return ev.WithPayload(ev.PayloadString() + s), nil
		}
		h := ev.CompletionHandler()
		go func() {
			if release != nil {
				<-release
			}
			r.note(WithWorkerID(context.Background(), -1), s, ev)
			h.OnCompletion(ev.WithPayload(ev.PayloadString() + s))
		}()
		return event.Pending, nil
	}))
}

// failingAsync reports err through the completion handler from another goroutine.
func (r *recorder) failingAsync(name string, err error) processor.Processor {
	return processor.WithName(name, processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		h := ev.CompletionHandler()
		go func() {
			r.note(WithWorkerID(context.Background(), -1), name, ev)
			h.OnFailure(err)
		}()
		return event.Pending, nil
	}))
}

// countingHandler counts outcomes and forwards them to a future.
type countingHandler struct {
	*event.Future
	mu          sync.Mutex
	completions int
	failures    int
}

func newCountingHandler() *countingHandler {
	return &countingHandler{Future: event.NewFuture()}
}

func (h *countingHandler) OnCompletion(ev *event.Event) {
	h.mu.Lock()
	h.completions++
	h.mu.Unlock()
	h.Future.OnCompletion(ev)
}

func (h *countingHandler) OnFailure(err error) {
	h.mu.Lock()
	h.failures++
	h.mu.Unlock()
	h.Future.OnFailure(err)
}

func (h *countingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completions, h.failures
}
