package callback

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/multierr"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// SentryReporter captures failed events in Sentry. Successes are ignored.
type SentryReporter struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

// NewSentryReporter creates a reporter capturing through hub. A nil hub uses sentry.CurrentHub().
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub, flushTimeout: 2 * time.Second}
}

// ReportSuccess implements the runner's reporter contract and does nothing.
func (r *SentryReporter) ReportSuccess(context.Context, *event.Event, *event.Event) error {
	return nil
}

// ReportError captures cause tagged with the event's identifiers and the failing processor.
func (r *SentryReporter) ReportError(_ context.Context, in *event.Event, cause error) error {
	if cause == nil {
		return nil
	}
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		if in != nil {
			scope.SetTag("event_id", in.ID())
			scope.SetTag("correlation_id", in.CorrelationID())
			scope.SetTag("exchange_pattern", in.ExchangePattern().String())
		}
		var pe *processor.ProcessingError
		if errors.As(cause, &pe) {
			scope.SetTag("processor", pe.Processor)
			scope.SetExtra("position", pe.Position)
		}
	})
	hub.CaptureException(cause)
	return nil
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush() bool {
	return r.hub.Flush(r.flushTimeout)
}

// Reporter is implemented by NATSReporter and SentryReporter.
type Reporter interface {
	ReportSuccess(ctx context.Context, in, out *event.Event) error
	ReportError(ctx context.Context, in *event.Event, cause error) error
}

// MultiReporter fans outcomes out to several reporters.
type MultiReporter []Reporter

// ReportSuccess reports to every reporter and combines their errors.
func (m MultiReporter) ReportSuccess(ctx context.Context, in, out *event.Event) error {
	var errs error
	for _, r := range m {
		errs = multierr.Append(errs, r.ReportSuccess(ctx, in, out))
	}
	return errs
}

// ReportError reports to every reporter and combines their errors.
func (m MultiReporter) ReportError(ctx context.Context, in *event.Event, cause error) error {
	var errs error
	for _, r := range m {
		errs = multierr.Append(errs, r.ReportError(ctx, in, cause))
	}
	return errs
}

// Flush flushes every member that buffers events. It reports whether all of
// them drained in time.
func (m MultiReporter) Flush() bool {
	ok := true
	for _, r := range m {
		if f, isFlusher := r.(interface{ Flush() bool }); isFlusher {
			ok = f.Flush() && ok
		}
	}
	return ok
}

var (
	_ Reporter = (*NATSReporter)(nil)
	_ Reporter = (*SentryReporter)(nil)
	_ Reporter = MultiReporter(nil)
)
