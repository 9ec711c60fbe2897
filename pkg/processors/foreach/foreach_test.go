package foreach

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Relay/pkg/chain"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
	relaystrings "github.com/wehubfusion/Relay/pkg/processors/strings"
)

func upper() processor.Processor {
	return processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		return ev.WithPayload(strings.ToUpper(ev.PayloadString())), nil
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	_, err = New(upper(), Config{Strategy: "sideways"})
	assert.Error(t, err)

	p, err := New(upper(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "foreach", p.Name())
	assert.Equal(t, StrategySequential, p.config.Strategy)
	assert.Positive(t, p.config.MaxConcurrent)
}

func TestProcess_Strategies(t *testing.T) {
	for _, strategy := range []Strategy{StrategySequential, StrategyParallel} {
		t.Run(string(strategy), func(t *testing.T) {
			p, err := New(upper(), Config{Strategy: strategy, MaxConcurrent: 2})
			require.NoError(t, err)

			out, err := p.Process(context.Background(), event.New(`["a","b","c"]`))
			require.NoError(t, err)
			assert.JSONEq(t, `["A","B","C"]`, string(out.Payload().([]byte)))

			out, err = p.Process(context.Background(), event.New([]any{"x", "y"}))
			require.NoError(t, err)
			assert.Equal(t, []any{"X", "Y"}, out.Payload())
		})
	}
}

func TestProcess_ElementEvents(t *testing.T) {
	var seen []string
	record := processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		idx, _ := ev.Metadata(MetadataIndex)
		tenant, _ := ev.Metadata("tenant")
		assert.False(t, ev.AllowsNonBlocking())
		assert.Nil(t, ev.CompletionHandler())
		seen = append(seen, idx+":"+tenant+":"+ev.CorrelationID())
		return ev, nil
	})
	p, err := New(record, Config{})
	require.NoError(t, err)

	in := event.New([]string{"a", "b"}).
		WithCorrelationID("c").
		WithMetadata("tenant", "acme").
		WithNonBlocking(true).
		WithCompletionHandler(event.NewFuture())
	_, err = p.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"0:acme:c", "1:acme:c"}, seen)
}

func TestProcess_NilResultsAreDropped(t *testing.T) {
	dropOdd := processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		if n, _ := ev.Payload().(float64); int(n)%2 == 1 {
			return nil, nil
		}
		return ev, nil
	})
	p, err := New(dropOdd, Config{})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), event.New(`[1,2,3,4]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[2,4]`, string(out.Payload().([]byte)))
}

func TestProcess_FailFast(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	failSecond := processor.Func(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		calls.Add(1)
		if ev.PayloadString() == "b" {
			return nil, boom
		}
		return ev, nil
	})

	p, err := New(failSecond, Config{})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), event.New(`["a","b","c"]`))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "element 1")
	assert.EqualValues(t, 2, calls.Load())

	p, err = New(failSecond, Config{Strategy: StrategyParallel})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), event.New(`["a","b","c"]`))
	assert.ErrorIs(t, err, boom)
}

func TestProcess_ParallelLimit(t *testing.T) {
	var active, peak atomic.Int32
	slow := processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return ev, nil
	})
	p, err := New(slow, Config{Strategy: StrategyParallel, MaxConcurrent: 2})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), event.New(`[1,2,3,4,5,6]`))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcess_BadPayloads(t *testing.T) {
	p, err := New(upper(), Config{})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), event.New(`{"a":1}`))
	assert.ErrorContains(t, err, "not a JSON array")
	_, err = p.Process(context.Background(), event.New(42))
	assert.ErrorContains(t, err, "not an array")

	out, err := p.Process(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestProcess_HandOffIsRejected(t *testing.T) {
	pending := processor.Func(func(context.Context, *event.Event) (*event.Event, error) {
		return event.Pending, nil
	})
	p, err := New(pending, Config{})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), event.New(`["a"]`))
	assert.ErrorContains(t, err, "handed off")
}

func TestNestedChain(t *testing.T) {
	inner, err := chain.NewBuilder("per-item").
		Chain(relaystrings.Prepend("<"), relaystrings.Append(">")).
		Build()
	require.NoError(t, err)
	p, err := New(inner, Config{Name: "wrap-all"})
	require.NoError(t, err)

	outer, err := chain.NewBuilder("outer").Chain(p).Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, outer.Initialise(ctx))
	require.NoError(t, outer.Start(ctx))
	assert.Equal(t, chain.StateStarted, inner.State())

	out, err := outer.Process(ctx, event.New(`["a","b"]`))
	require.NoError(t, err)
	assert.JSONEq(t, `["<a>","<b>"]`, string(out.Payload().([]byte)))

	require.NoError(t, outer.Stop(ctx))
	require.NoError(t, outer.Dispose(ctx))
	assert.Equal(t, chain.StateDisposed, inner.State())
}
