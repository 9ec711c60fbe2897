// Package event defines the unit of work that flows through a Relay pipeline.
package event

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExchangePattern tells whether the caller expects a result.
type ExchangePattern int

const (
	// RequestResponse callers receive the computed result of the pipeline.
	RequestResponse ExchangePattern = iota
	// OneWay callers fire and forget; the pipeline still runs for its side effects.
	OneWay
)

// String returns the string representation of the exchange pattern
func (p ExchangePattern) String() string {
	switch p {
	case RequestResponse:
		return "request-response"
	case OneWay:
		return "one-way"
	}
	return "unknown"
}

// ParseExchangePattern parses the names produced by ExchangePattern.String.
func ParseExchangePattern(s string) (ExchangePattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "request-response", "request_response", "requestresponse":
		return RequestResponse, nil
	case "one-way", "one_way", "oneway", "fire-and-forget":
		return OneWay, nil
	}
	return RequestResponse, fmt.Errorf("unknown exchange pattern %q", s)
}

// Event carries a payload plus routing metadata through a pipeline.
//
// Events are values: every With* method returns a derived copy and leaves the
// receiver untouched. Derivations that change content get a fresh ID;
// WithNonBlocking and WithCompletionHandler only rebind how the event is
// executed and keep it. A nil *Event means "no event" and is
// a legal result of any processor, distinct from an event whose payload is empty.
type Event struct {
	id            string
	correlationID string
	payload       any
	pattern       ExchangePattern
	nonBlocking   bool
	handler       CompletionHandler
	metadata      map[string]string
	createdAt     time.Time
}

// New creates a request-response event with the given payload and a new correlation ID.
func New(payload any) *Event {
	id := uuid.NewString()
	return &Event{
		id:            id,
		correlationID: id,
		payload:       payload,
		pattern:       RequestResponse,
		createdAt:     time.Now(),
	}
}

// NewOneWay creates a fire-and-forget event with the given payload.
func NewOneWay(payload any) *Event {
	ev := New(payload)
	ev.pattern = OneWay
	return ev
}

// ID returns the identity of this event value. It is stable across
// WithNonBlocking and WithCompletionHandler, so a processor sees the same ID
// under every execution strategy.
func (e *Event) ID() string { return e.id }

// CorrelationID returns the identifier shared by an event and everything derived from it.
func (e *Event) CorrelationID() string { return e.correlationID }

// Payload returns the event payload.
func (e *Event) Payload() any { return e.payload }

// PayloadString returns the payload formatted as a string. A nil payload yields "".
func (e *Event) PayloadString() string {
	switch p := e.payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	case fmt.Stringer:
		return p.String()
	}
	return fmt.Sprint(e.payload)
}

// ExchangePattern returns the exchange pattern.
func (e *Event) ExchangePattern() ExchangePattern { return e.pattern }

// IsOneWay reports whether the caller does not expect a result.
func (e *Event) IsOneWay() bool { return e.pattern == OneWay }

// AllowsNonBlocking reports whether processing may continue on another goroutine.
func (e *Event) AllowsNonBlocking() bool { return e.nonBlocking }

// CanHandOff reports whether a processor may return Pending and finish later
// through CompletionHandler. Processors that support hand-off must complete
// inline when it reports false.
func (e *Event) CanHandOff() bool {
	return e != nil && e.nonBlocking && e.handler != nil
}

// CompletionHandler returns the attached completion handler, or nil.
func (e *Event) CompletionHandler() CompletionHandler { return e.handler }

// Metadata returns the value stored under key.
func (e *Event) Metadata(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// MetadataMap returns a copy of all metadata.
func (e *Event) MetadataMap() map[string]string {
	return maps.Clone(e.metadata)
}

// CreatedAt returns the creation time of the first event in the derivation lineage.
func (e *Event) CreatedAt() time.Time { return e.createdAt }

// derive copies the event under a new identity.
func (e *Event) derive() *Event {
	d := *e
	d.id = uuid.NewString()
	d.metadata = maps.Clone(e.metadata)
	return &d
}

// rebind copies the event under the same identity.
func (e *Event) rebind() *Event {
	d := *e
	return &d
}

// WithPayload derives an event carrying payload.
func (e *Event) WithPayload(payload any) *Event {
	d := e.derive()
	d.payload = payload
	return d
}

// WithExchangePattern derives an event with the given exchange pattern.
func (e *Event) WithExchangePattern(p ExchangePattern) *Event {
	d := e.derive()
	d.pattern = p
	return d
}

// WithNonBlocking derives an event that permits (or forbids) non-blocking continuation.
func (e *Event) WithNonBlocking(allowed bool) *Event {
	d := e.rebind()
	d.nonBlocking = allowed
	return d
}

// WithCompletionHandler derives an event that reports to h. A nil h detaches the handler.
func (e *Event) WithCompletionHandler(h CompletionHandler) *Event {
	d := e.rebind()
	d.handler = h
	return d
}

// WithCorrelationID derives an event with an explicit correlation ID.
func (e *Event) WithCorrelationID(correlationID string) *Event {
	d := e.derive()
	d.correlationID = correlationID
	return d
}

// WithMetadata derives an event with key set to value.
func (e *Event) WithMetadata(key, value string) *Event {
	d := e.derive()
	if d.metadata == nil {
		d.metadata = make(map[string]string)
	}
	d.metadata[key] = value
	return d
}

// String returns a short description for logs.
func (e *Event) String() string {
	if e == nil {
		return "<nil event>"
	}
	if e == Pending {
		return "<pending>"
	}
	return fmt.Sprintf("Event{id=%s, correlation=%s, pattern=%s, payload=%q}",
		e.id, e.correlationID, e.pattern, e.PayloadString())
}
