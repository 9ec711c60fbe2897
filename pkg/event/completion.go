package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pending is returned by a processor, executor or chain that has handed the
// remainder of its work to another goroutine. The final outcome arrives later
// through the event's CompletionHandler. Compare by identity or use IsPending.
var Pending = &Event{id: "pending", correlationID: "pending"}

// IsPending reports whether ev is the Pending sentinel.
func IsPending(ev *Event) bool { return ev == Pending }

// CompletionHandler receives the outcome of asynchronously completed processing.
type CompletionHandler interface {
	// OnCompletion is called with the final event (possibly nil).
	OnCompletion(ev *Event)
	// OnFailure is called with the first unrecovered failure.
	OnFailure(err error)
}

// HandlerFuncs adapts a pair of functions to CompletionHandler. Nil fields are no-ops.
type HandlerFuncs struct {
	Completion func(ev *Event)
	Failure    func(err error)
}

// OnCompletion implements CompletionHandler.
func (h HandlerFuncs) OnCompletion(ev *Event) {
	if h.Completion != nil {
		h.Completion(ev)
	}
}

// OnFailure implements CompletionHandler.
func (h HandlerFuncs) OnFailure(err error) {
	if h.Failure != nil {
		h.Failure(err)
	}
}

// OnceHandler lets exactly one outcome through to the wrapped handler.
type OnceHandler struct {
	delegate CompletionHandler
	fired    atomic.Bool
}

// Once wraps h in a single-use latch. Wrapping an *OnceHandler returns it unchanged.
func Once(h CompletionHandler) *OnceHandler {
	if o, ok := h.(*OnceHandler); ok {
		return o
	}
	return &OnceHandler{delegate: h}
}

// OnCompletion forwards ev if no outcome has been delivered yet.
func (o *OnceHandler) OnCompletion(ev *Event) {
	if o.fired.CompareAndSwap(false, true) {
		o.delegate.OnCompletion(ev)
	}
}

// OnFailure forwards err if no outcome has been delivered yet.
func (o *OnceHandler) OnFailure(err error) {
	if o.fired.CompareAndSwap(false, true) {
		o.delegate.OnFailure(err)
	}
}

// Fired reports whether an outcome has been delivered.
func (o *OnceHandler) Fired() bool { return o.fired.Load() }

// Future is a CompletionHandler that can be waited on.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result *Event
	err    error
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// OnCompletion resolves the future with ev. Only the first outcome counts.
func (f *Future) OnCompletion(ev *Event) {
	f.once.Do(func() {
		f.result = ev
		close(f.done)
	})
}

// OnFailure resolves the future with err. Only the first outcome counts.
func (f *Future) OnFailure(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var (
	_ CompletionHandler = HandlerFuncs{}
	_ CompletionHandler = (*OnceHandler)(nil)
	_ CompletionHandler = (*Future)(nil)
)
