// Package callback reports event outcomes to the outside world: results are
// published over NATS and failures can be captured by Sentry.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	relayerrors "github.com/wehubfusion/Relay/pkg/errors"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// ResultType represents the kind of outcome being published
type ResultType string

const (
	ResultTypeSuccess ResultType = "success"
	ResultTypeError   ResultType = "error"
)

// Headers set on every published result.
const (
	HeaderCorrelationID = "Relay-Correlation-Id"
	HeaderResultType    = "Relay-Result-Type"
)

// Publisher is the part of *nats.Conn used to publish results.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Result is the JSON body of a published outcome.
type Result struct {
	Type          ResultType        `json:"type"`
	EventID       string            `json:"event_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Payload       any               `json:"payload,omitempty"`
	Error         string            `json:"error,omitempty"`
	Processor     string            `json:"processor,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Config holds configuration for the NATS reporter
type Config struct {
	Subject       string        // Subject to publish results to (default: "relay.results")
	MaxRetries    int           // Maximum number of retry attempts (default: 3)
	RetryDelay    time.Duration // Delay between retries (default: 100ms)
	EnableLogging bool          // Enable logging of operations (default: true)
	Logger        *zap.Logger   // Custom logger instance (optional, uses a no-op logger if nil)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Subject:       "relay.results",
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		EnableLogging: true,
	}
}

// NATSReporter publishes event outcomes to a NATS subject.
type NATSReporter struct {
	publisher Publisher
	config    *Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewNATSReporter creates a reporter publishing through publisher, typically a *nats.Conn.
func NewNATSReporter(publisher Publisher, config *Config) (*NATSReporter, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Subject == "" {
		return nil, errors.New("subject cannot be empty")
	}
	if config.MaxRetries < 0 {
		return nil, errors.New("max retries cannot be negative")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSReporter{
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// ReportSuccess publishes the result of processing in. A nil out is published
// as a success without payload.
func (r *NATSReporter) ReportSuccess(ctx context.Context, in, out *event.Event) error {
	result := r.newResult(ResultTypeSuccess, in)
	if out != nil {
		result.EventID = out.ID()
		result.Payload = out.Payload()
		result.Metadata = out.MetadataMap()
	}
	return r.publish(ctx, result)
}

// ReportError publishes the failure of processing in.
func (r *NATSReporter) ReportError(ctx context.Context, in *event.Event, cause error) error {
	result := r.newResult(ResultTypeError, in)
	if cause != nil {
		result.Error = cause.Error()
	}
	var pe *processor.ProcessingError
	if errors.As(cause, &pe) {
		result.Processor = pe.Processor
	}
	return r.publish(ctx, result)
}

// Handler returns a completion handler that publishes the outcome of in.
// Publishing failures are logged.
func (r *NATSReporter) Handler(ctx context.Context, in *event.Event) event.CompletionHandler {
	return event.HandlerFuncs{
		Completion: func(out *event.Event) {
			if err := r.ReportSuccess(ctx, in, out); err != nil {
				r.logger.Error("Error reporting success", zap.String("correlation_id", correlationOf(in)), zap.Error(err))
			}
		},
		Failure: func(cause error) {
			if err := r.ReportError(ctx, in, cause); err != nil {
				r.logger.Error("Error reporting failure", zap.String("correlation_id", correlationOf(in)), zap.Error(err))
			}
		},
	}
}

// GetConfig returns the current configuration (read-only)
func (r *NATSReporter) GetConfig() *Config {
	return r.config
}

func (r *NATSReporter) newResult(kind ResultType, in *event.Event) Result {
	result := Result{Type: kind, Timestamp: r.now().UTC()}
	if in != nil {
		result.EventID = in.ID()
		result.CorrelationID = in.CorrelationID()
	}
	return result
}

// publish encodes result and publishes it, retrying with a constant delay.
func (r *NATSReporter) publish(ctx context.Context, result Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		r.logOperation("encode", result, err)
		return fmt.Errorf("failed to encode result: %w", err)
	}

	msg := nats.NewMsg(r.config.Subject)
	msg.Data = body
	msg.Header.Set(HeaderResultType, string(result.Type))
	if result.CorrelationID != "" {
		msg.Header.Set(HeaderCorrelationID, result.CorrelationID)
	}
	if result.EventID != "" {
		msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s-%s", result.EventID, result.Type))
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, r.publisher.PublishMsg(msg)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.config.RetryDelay)),
		backoff.WithMaxTries(uint(r.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if r.config.EnableLogging {
				r.logger.Warn("Publish attempt failed",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", r.config.MaxRetries+1),
					zap.String("subject", r.config.Subject),
					zap.Duration("retry_delay", next),
					zap.Error(err))
			}
		}),
	)
	if err != nil {
		err = relayerrors.NewError(relayerrors.CodePublish,
			fmt.Sprintf("publish to %s failed after %d attempts", r.config.Subject, attempt), err)
	}
	r.logOperation("publish", result, err)
	return err
}

// logOperation logs the operation if logging is enabled
func (r *NATSReporter) logOperation(operation string, result Result, err error) {
	if !r.config.EnableLogging {
		return
	}
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("subject", r.config.Subject),
		zap.String("result_type", string(result.Type)),
		zap.String("correlation_id", result.CorrelationID),
	}
	if err != nil {
		r.logger.Error(fmt.Sprintf("Failed to %s result", operation), append(fields, zap.Error(err))...)
		return
	}
	r.logger.Debug(fmt.Sprintf("Successfully %s result", operation), fields...)
}

func correlationOf(ev *event.Event) string {
	if ev == nil {
		return ""
	}
	return ev.CorrelationID()
}
