package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/chain"
	relayerrors "github.com/wehubfusion/Relay/pkg/errors"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

type outcome struct {
	in  *event.Event
	out *event.Event
	err error
}

// recordingReporter keeps every reported outcome.
type recordingReporter struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (r *recordingReporter) ReportSuccess(_ context.Context, in, out *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome{in: in, out: out})
	return nil
}

func (r *recordingReporter) ReportError(_ context.Context, in *event.Event, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome{in: in, err: err})
	return nil
}

func (r *recordingReporter) snapshot() []outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome(nil), r.outcomes...)
}

func appending(suffix string) processor.Processor {
	return processor.WithName("append "+suffix, processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		return ev.WithPayload(ev.PayloadString() + suffix), nil
	}))
}

// handingOff completes on another goroutine whenever the event allows it.
func handingOff(suffix string) processor.Processor {
	return processor.WithName("handoff "+suffix, processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		h := ev.CompletionHandler()
		if !ev.AllowsNonBlocking() || h == nil {
			return ev.WithPayload(ev.PayloadString() + suffix), nil
		}
		go h.OnCompletion(ev.WithPayload(ev.PayloadString() + suffix))
		return event.Pending, nil
	}))
}

func mustChain(t *testing.T, elements ...any) *chain.Chain {
	t.Helper()
	c, err := chain.NewBuilder("test").Chain(elements...).Build()
	require.NoError(t, err)
	return c
}

func newTestRunner(t *testing.T, proc processor.Processor, source chan *event.Event, workers int, reporter Reporter) *Runner {
	t.Helper()
	r, err := NewRunner(proc, source, workers, time.Second, zap.NewNop(), reporter, nil)
	require.NoError(t, err)
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	proc := appending("1")
	source := make(chan *event.Event)
	logger := zap.NewNop()

	tests := []struct {
		name    string
		create  func() (*Runner, error)
		wantErr string
	}{
		{"nil processor", func() (*Runner, error) { return NewRunner(nil, source, 1, time.Second, logger, nil, nil) }, "processor"},
		{"nil source", func() (*Runner, error) { return NewRunner(proc, nil, 1, time.Second, logger, nil, nil) }, "source"},
		{"no workers", func() (*Runner, error) { return NewRunner(proc, source, 0, time.Second, logger, nil, nil) }, "numWorkers"},
		{"no timeout", func() (*Runner, error) { return NewRunner(proc, source, 1, 0, logger, nil, nil) }, "processTimeout"},
		{"nil logger", func() (*Runner, error) { return NewRunner(proc, source, 1, time.Second, nil, nil, nil) }, "logger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.create()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, r)
		})
	}
}

func TestNewRunner_InvalidTracingConfigIsIgnored(t *testing.T) {
	r, err := NewRunner(appending("1"), make(chan *event.Event), 1, time.Second, zap.NewNop(), nil, &TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestRun_ProcessesAllEvents(t *testing.T) {
	reporter := &recordingReporter{}
	source := make(chan *event.Event, 20)
	r := newTestRunner(t, mustChain(t, appending("1"), appending("2")), source, 4, reporter)

	for i := 0; i < 20; i++ {
		source <- event.New(fmt.Sprintf("e%02d-", i))
	}
	close(source)

	require.NoError(t, r.Run(context.Background()))

	outcomes := reporter.snapshot()
	require.Len(t, outcomes, 20)
	got := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		require.NoError(t, o.err)
		got = append(got, o.out.PayloadString())
	}
	sort.Strings(got)
	assert.Equal(t, "e00-12", got[0])
	assert.Equal(t, "e19-12", got[19])
}

func TestRun_ReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := processor.WithName("failing", processor.Func(func(context.Context, *event.Event) (*event.Event, error) {
		return nil, boom
	}))
	reporter := &recordingReporter{}
	source := make(chan *event.Event, 1)
	r := newTestRunner(t, mustChain(t, appending("1"), failing), source, 1, reporter)

	source <- event.New("0")
	close(source)
	require.NoError(t, r.Run(context.Background()))

	outcomes := reporter.snapshot()
	require.Len(t, outcomes, 1)
	require.ErrorIs(t, outcomes[0].err, boom)
	var pe *processor.ProcessingError
	require.ErrorAs(t, outcomes[0].err, &pe)
	assert.Equal(t, "failing", pe.Processor)
	assert.Equal(t, 1, pe.Position)
}

func TestRun_ContextCancellation(t *testing.T) {
	source := make(chan *event.Event)
	r := newTestRunner(t, appending("1"), source, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestProcess_WaitsForHandOff(t *testing.T) {
	reporter := &recordingReporter{}
	r := newTestRunner(t, mustChain(t, appending("1"), handingOff("2"), appending("3")), make(chan *event.Event), 1, reporter)

	callerHandler := event.NewFuture()
	in := event.New("0").WithNonBlocking(true).WithCompletionHandler(callerHandler)

	out, err := r.Process(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "0123", out.PayloadString())

	fromCaller, err := callerHandler.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0123", fromCaller.PayloadString())

	outcomes := reporter.snapshot()
	require.Len(t, outcomes, 1)
	assert.Same(t, in, outcomes[0].in)
	assert.Equal(t, "0123", outcomes[0].out.PayloadString())
}

func TestProcess_NonBlockingWithoutHandOff(t *testing.T) {
	r := newTestRunner(t, mustChain(t, appending("1"), appending("2")), make(chan *event.Event), 1, nil)

	out, err := r.Process(context.Background(), event.New("0").WithNonBlocking(true))
	require.NoError(t, err)
	assert.Equal(t, "012", out.PayloadString())
}

func TestProcess_HandOffTimeout(t *testing.T) {
	never := processor.Func(func(context.Context, *event.Event) (*event.Event, error) {
		return event.Pending, nil
	})
	r, err := NewRunner(never, make(chan *event.Event), 1, 20*time.Millisecond, zap.NewNop(), nil, nil)
	require.NoError(t, err)

	_, err = r.Process(context.Background(), event.New("0").WithNonBlocking(true))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, relayerrors.IsTimeout(err))
}

func TestProcess_HandOffOfBlockingEvent(t *testing.T) {
	pending := processor.Func(func(context.Context, *event.Event) (*event.Event, error) {
		return event.Pending, nil
	})
	reporter := &recordingReporter{}
	r := newTestRunner(t, pending, make(chan *event.Event), 1, reporter)

	_, err := r.Process(context.Background(), event.New("0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handed off a blocking event")
	assert.ErrorIs(t, err, relayerrors.ErrProcessing)
	require.Len(t, reporter.snapshot(), 1)
}

func TestProcess_NullResult(t *testing.T) {
	dropping := processor.Func(func(context.Context, *event.Event) (*event.Event, error) {
		return nil, nil
	})
	reporter := &recordingReporter{}
	r := newTestRunner(t, dropping, make(chan *event.Event), 1, reporter)

	out, err := r.Process(context.Background(), event.New("0"))
	require.NoError(t, err)
	assert.Nil(t, out)

	outcomes := reporter.snapshot()
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].err)
	assert.Nil(t, outcomes[0].out)
}

func TestProcess_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	boom := errors.New("boom")
	failOnX := processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		if ev.PayloadString() == "x" {
			return nil, boom
		}
		return ev, nil
	})
	r := newTestRunner(t, failOnX, make(chan *event.Event), 1, nil).WithTracer(tp.Tracer("test"))

	_, err := r.Process(context.Background(), event.New("ok"))
	require.NoError(t, err)
	_, err = r.Process(context.Background(), event.New("x"))
	require.ErrorIs(t, err, boom)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "runner.processEvent", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestClose_WithoutTracing(t *testing.T) {
	r := newTestRunner(t, appending("1"), make(chan *event.Event), 1, nil)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestTracingConfig_Setters(t *testing.T) {
	base := DefaultTracingConfig("orders")
	require.NoError(t, base.Validate())

	cfg := base.WithEndpoint("collector:4318").WithSampleRatio(0.25).WithEnvironment("prod")
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "127.0.0.1:4318", base.OTLPEndpoint)

	assert.Error(t, cfg.WithSampleRatio(2).Validate())
	assert.Error(t, cfg.WithEndpoint("").Validate())
}
