package chain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// appender appends its suffix to the payload and remembers what it received.
type appender struct {
	suffix string
	mu     sync.Mutex
	inputs []string
}

func appending(suffix string) *appender { return &appender{suffix: suffix} }

func (a *appender) Process(_ context.Context, ev *event.Event) (*event.Event, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, ev.PayloadString())
	a.mu.Unlock()
	return ev.WithPayload(ev.PayloadString() + a.suffix), nil
}

func (a *appender) Name() string { return a.suffix }

func (a *appender) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.inputs...)
}

// returnsNil yields no event.
type returnsNil struct{ invoked atomic.Bool }

func (r *returnsNil) Process(context.Context, *event.Event) (*event.Event, error) {
	r.invoked.Store(true)
	return nil, nil
}

func (r *returnsNil) Name() string { return "null" }

// wrapping appends "before<name>", calls next, then appends "after<name>".
// With stop set it returns its input without calling next.
type wrapping struct {
	name    string
	stop    bool
	invoked atomic.Bool
}

func intercepting(name string) *wrapping { return &wrapping{name: name} }

func stopping(name string) *wrapping { return &wrapping{name: name, stop: true} }

func (w *wrapping) Intercept(ctx context.Context, ev *event.Event, next processor.Processor) (*event.Event, error) {
	w.invoked.Store(true)
	if w.stop {
		return ev, nil
	}
	out, err := next.Process(ctx, ev.WithPayload(ev.PayloadString()+"before"+w.name))
	if err != nil || out == nil || event.IsPending(out) {
		return out, err
	}
	return out.WithPayload(out.PayloadString() + "after" + w.name), nil
}

func (w *wrapping) Name() string { return w.name }

// dropping is an interceptor that never calls next and yields no event.
type dropping struct{}

func (*dropping) Intercept(context.Context, *event.Event, processor.Processor) (*event.Event, error) {
	return nil, nil
}

func (*dropping) Name() string { return "drop" }

func mustBuild(t *testing.T, elements ...any) *Chain {
	t.Helper()
	c, err := From(elements...)
	require.NoError(t, err)
	return c
}

func nested(elements ...any) *Builder {
	return NewBuilder("nested").Chain(elements...)
}

func process(t *testing.T, c *Chain, payload string) *event.Event {
	t.Helper()
	out, err := c.Process(context.Background(), event.New(payload))
	require.NoError(t, err)
	return out
}

func TestChain_PlainProcessors(t *testing.T) {
	c := mustBuild(t, appending("1"), appending("2"), appending("3"))

	assert.Equal(t, "0123", process(t, c, "0").PayloadString())
}

func TestChain_NullIsSkipped(t *testing.T) {
	last := appending("3")
	c := mustBuild(t, appending("1"), appending("2"), &returnsNil{}, last)

	assert.Equal(t, "0123", process(t, c, "0").PayloadString())
	assert.Equal(t, []string{"012"}, last.received())
}

func TestChain_NullAtEndIsTheResult(t *testing.T) {
	c := mustBuild(t, appending("1"), appending("2"), appending("3"), &returnsNil{})

	assert.Nil(t, process(t, c, "0"))
}

func TestChain_NestedInterceptors(t *testing.T) {
	c := mustBuild(t, intercepting("1"), intercepting("2"), intercepting("3"))

	assert.Equal(t, "0before1before2before3after3after2after1", process(t, c, "0").PayloadString())
}

func TestChain_InterceptorStoppingFlow(t *testing.T) {
	last := intercepting("3")
	c := mustBuild(t, intercepting("1"), stopping("2"), last)

	assert.Equal(t, "0before1after1", process(t, c, "0").PayloadString())
	assert.False(t, last.invoked.Load())
}

func TestChain_InterceptorReturningNilAbortsEnclosing(t *testing.T) {
	last := intercepting("3")
	c := mustBuild(t, intercepting("1"), intercepting("2"), &dropping{}, last)

	assert.Nil(t, process(t, c, "0"))
	assert.False(t, last.invoked.Load())
}

func TestChain_MixedPlainAndIntercepting(t *testing.T) {
	c := mustBuild(t, intercepting("1"), appending("2"), appending("3"), intercepting("4"), appending("5"))

	assert.Equal(t, "0before123before45after4after1", process(t, c, "0").PayloadString())
}

func TestChain_PlainBeforeFirstInterceptorStaysTopLevel(t *testing.T) {
	c := mustBuild(t, appending("1"), intercepting("2"), appending("3"))

	assert.Equal(t, "01before23after2", process(t, c, "0").PayloadString())
}

func TestChain_NestedChains(t *testing.T) {
	tests := []struct {
		name     string
		elements []any
		want     string
	}{
		{
			name:     "nested plain chain",
			elements: []any{appending("1"), nested(appending("a"), appending("b")), appending("2")},
			want:     "01ab2",
		},
		{
			name:     "nested intercepting chain",
			elements: []any{intercepting("1"), nested(intercepting("a"), intercepting("b")), intercepting("2")},
			want:     "0before1beforeabeforebafterbafterabefore2after2after1",
		},
		{
			name:     "nested mixed chain",
			elements: []any{appending("1"), nested(intercepting("a"), appending("b")), intercepting("2")},
			want:     "01beforeabafterabefore2after2",
		},
		{
			name:     "stop inside nested chain ends only that chain",
			elements: []any{intercepting("1"), nested(stopping("a"), intercepting("b")), intercepting("3")},
			want:     "0before1before3after3after1",
		},
		{
			name:     "nil from nested chain is skipped by the enclosing run",
			elements: []any{intercepting("1"), nested(intercepting("a"), &dropping{}, intercepting("b")), intercepting("2")},
			want:     "0before1before2after2after1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustBuild(t, tt.elements...)
			assert.Equal(t, tt.want, process(t, c, "0").PayloadString())
		})
	}
}

func TestChain_NestedChainValue(t *testing.T) {
	inner := mustBuild(t, appending("a"), &returnsNil{})
	outer := mustBuild(t, appending("1"), inner, appending("2"))

	assert.Equal(t, "012", process(t, outer, "0").PayloadString())
}

func TestChain_EmptyReturnsInput(t *testing.T) {
	c := mustBuild(t)
	in := event.New("0")

	out, err := c.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestChain_OneWayReturnsInput(t *testing.T) {
	second := appending("b")
	c := mustBuild(t, intercepting("1"), appending("a"), second)
	in := event.NewOneWay("x")

	out, err := c.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Equal(t, []string{"xbefore1a"}, second.received())
}

func TestChain_LegacyTargetStopsAtNull(t *testing.T) {
	last := appending("3")
	c, err := NewBuilder("legacy").WithLegacyTarget(true).
		Chain(appending("1"), &returnsNil{}, last).Build()
	require.NoError(t, err)

	assert.Nil(t, process(t, c, "0"))
	assert.Empty(t, last.received())
}

func TestChain_TemplateWrapsEveryCall(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	tmpl := processor.TemplateFunc(func(ctx context.Context, p processor.Processor, ev *event.Event) (*event.Event, error) {
		mu.Lock()
		calls = append(calls, processor.NameOf(p))
		mu.Unlock()
		return p.Process(ctx, ev)
	})

	c, err := NewBuilder("templated").WithTemplate(tmpl).
		Chain(appending("1"), intercepting("2"), appending("3"), nested(appending("a"))).Build()
	require.NoError(t, err)

	assert.Equal(t, "01before23aafter2", process(t, c, "0").PayloadString())
	assert.Equal(t, []string{"1", "2", "3", "nested", "a"}, calls)
}

func TestChain_FailureIsAttributed(t *testing.T) {
	boom := errors.New("boom")
	failing := processor.WithName("failing", processor.Func(func(context.Context, *event.Event) (*event.Event, error) {
		return nil, boom
	}))
	last := appending("3")
	c := mustBuild(t, intercepting("1"), appending("2"), failing, last)

	_, err := c.Process(context.Background(), event.New("0"))
	require.ErrorIs(t, err, boom)
	var pe *processor.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "failing", pe.Processor)
	assert.Equal(t, 1, pe.Position)
	assert.Empty(t, last.received())
}

// handingOff appends suffix from another goroutine when the event permits a
// hand-off and inline otherwise.
func handingOff(suffix string) processor.Processor {
	return processor.WithName(suffix, processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		out := ev.WithPayload(ev.PayloadString() + suffix)
		if !ev.CanHandOff() {
			return out, nil
		}
		h := ev.CompletionHandler()
		go func() {
			time.Sleep(5 * time.Millisecond)
			h.OnCompletion(out)
		}()
		return event.Pending, nil
	}))
}

// passingPending wraps next like wrapping but lets it hand off, finishing its
// after-step from the completion handler it installs.
type passingPending struct{ name string }

func (p passingPending) HandlesHandOff() bool { return true }

func (p passingPending) Name() string { return p.name }

func (p passingPending) Intercept(ctx context.Context, ev *event.Event, next processor.Processor) (*event.Event, error) {
	in := ev.WithPayload(ev.PayloadString() + "before" + p.name)
	if outer := ev.CompletionHandler(); ev.CanHandOff() {
		in = in.WithCompletionHandler(event.HandlerFuncs{
			Completion: func(out *event.Event) {
				outer.OnCompletion(out.WithPayload(out.PayloadString() + "after" + p.name))
			},
			Failure: outer.OnFailure,
		})
	}
	out, err := next.Process(ctx, in)
	if err != nil || out == nil || event.IsPending(out) {
		return out, err
	}
	return out.WithPayload(out.PayloadString() + "after" + p.name), nil
}

func TestChain_HandOffInsideChain(t *testing.T) {
	tests := []struct {
		name     string
		elements func() []any
		pending  bool
		want     string
	}{
		{"plain run", func() []any { return []any{appending("1"), handingOff("2"), appending("3")} }, true, "0123"},
		{"inside interceptor next", func() []any { return []any{intercepting("1"), handingOff("2"), appending("3")} }, false, "0before123after1"},
		{"interceptor accepting hand-off", func() []any { return []any{passingPending{name: "1"}, handingOff("2"), appending("3")} }, true, "0before123after1"},
		{"inside nested chain", func() []any { return []any{appending("1"), nested(handingOff("2"), appending("a")), appending("3")} }, true, "012a3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocking, err := mustBuild(t, tt.elements()...).Process(context.Background(), event.New("0"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, blocking.PayloadString())

			c := mustBuild(t, tt.elements()...)
			var completions atomic.Int32
			future := event.NewFuture()
			handler := event.HandlerFuncs{
				Completion: func(ev *event.Event) { completions.Add(1); future.OnCompletion(ev) },
				Failure:    future.OnFailure,
			}

			out, err := c.Process(context.Background(), event.New("0").WithNonBlocking(true).WithCompletionHandler(handler))
			require.NoError(t, err)
			require.Equal(t, tt.pending, event.IsPending(out))

			result := out
			if tt.pending {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				result, err = future.Wait(ctx)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, result.PayloadString())
			assert.True(t, result.AllowsNonBlocking())

			time.Sleep(10 * time.Millisecond)
			if tt.pending {
				assert.EqualValues(t, 1, completions.Load())
			} else {
				assert.Zero(t, completions.Load())
			}
		})
	}
}

func TestChain_ConcurrentEvents(t *testing.T) {
	c := mustBuild(t, intercepting("1"), appending("2"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Process(context.Background(), event.New("0"))
			assert.NoError(t, err)
			assert.Equal(t, "0before12after1", out.PayloadString())
		}()
	}
	wg.Wait()
}

func TestChain_Processors(t *testing.T) {
	p1 := appending("1")
	i2 := intercepting("2")
	inner := mustBuild(t, appending("a"))
	c := mustBuild(t, p1, i2, inner)

	members := c.Processors()
	require.Len(t, members, 3)
	assert.Same(t, p1, members[0])
	assert.Equal(t, "2", processor.NameOf(members[1]))
	assert.Same(t, inner, members[2])

	members[0] = nil
	assert.Same(t, p1, c.Processors()[0])
}

func TestChain_String(t *testing.T) {
	inner, err := NewBuilder("inner").Chain(appending("a")).Build()
	require.NoError(t, err)
	c, err := NewBuilder("outer").Chain(appending("1"), intercepting("2"), appending("3"), inner).Build()
	require.NoError(t, err)

	want := "chain \"outer\"\n" +
		"  1\n" +
		"  2 (intercepting)\n" +
		"    3\n" +
		"    chain \"inner\"\n" +
		"      a"
	assert.Equal(t, want, c.String())
}

func TestBuilder_Failures(t *testing.T) {
	shared := appending("1")
	var nilBuilder *Builder
	var nilAppender *appender

	tests := []struct {
		name     string
		elements []any
		want     error
	}{
		{"nil element", []any{appending("1"), nil}, ErrEmptyElement},
		{"typed nil builder", []any{nilBuilder}, ErrEmptyElement},
		{"typed nil processor", []any{nilAppender}, ErrEmptyElement},
		{"unsupported element", []any{"not a processor"}, ErrUnsupportedElement},
		{"duplicate instance", []any{shared, appending("2"), shared}, ErrDuplicateProcessor},
		{"duplicate inside nested builder", []any{appending("x"), nested(shared, shared)}, ErrDuplicateProcessor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := From(tt.elements...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuilder_FuncProcessorsMayRepeat(t *testing.T) {
	f := processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		return ev.WithPayload(ev.PayloadString() + "f"), nil
	})

	c := mustBuild(t, f, f)
	assert.Equal(t, "0ff", process(t, c, "0").PayloadString())
}
