// Package message turns inbound NATS messages into events.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wehubfusion/Relay/pkg/callback"
	"github.com/wehubfusion/Relay/pkg/event"
)

// Headers read from inbound messages.
const (
	HeaderExchangePattern = "Relay-Exchange-Pattern"
	HeaderNonBlocking     = "Relay-Non-Blocking"
)

// Metadata keys set on events created from NATS messages.
const (
	MetadataSubject   = "nats.subject"
	MetadataReply     = "nats.reply"
	MetadataMessageID = "message_id"
)

// Message is the JSON envelope accepted on the event subject.
type Message struct {
	ID              string            `json:"id,omitempty"`
	CorrelationID   string            `json:"correlationId,omitempty"`
	ExchangePattern string            `json:"exchangePattern,omitempty"`
	NonBlocking     bool              `json:"nonBlocking,omitempty"`
	Payload         json.RawMessage   `json:"payload"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       string            `json:"createdAt,omitempty"`
}

// NewMessage creates an envelope carrying payload encoded as JSON.
func NewMessage(payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Message{
		Payload:   raw,
		CreatedAt: time.Now().Format(time.RFC3339),
	}, nil
}

// WithCorrelationID sets the correlation ID.
func (m *Message) WithCorrelationID(id string) *Message {
	m.CorrelationID = id
	return m
}

// WithMetadata adds a metadata entry.
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	return m
}

// ToBytes serializes the envelope to JSON bytes
func (m *Message) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// FromBytes deserializes an envelope from JSON bytes
func FromBytes(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// ToEvent converts the envelope into an event. A JSON string payload becomes
// a string, a missing or null payload becomes nil, and any other JSON value
// is kept as raw bytes.
func (m *Message) ToEvent() (*event.Event, error) {
	var payload any
	switch raw := bytes.TrimSpace(m.Payload); {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		payload = s
	default:
		payload = []byte(raw)
	}

	ev := event.New(payload).WithNonBlocking(m.NonBlocking)
	if m.ExchangePattern != "" {
		p, err := event.ParseExchangePattern(m.ExchangePattern)
		if err != nil {
			return nil, err
		}
		ev = ev.WithExchangePattern(p)
	}
	if m.CorrelationID != "" {
		ev = ev.WithCorrelationID(m.CorrelationID)
	}
	if m.ID != "" {
		ev = ev.WithMetadata(MetadataMessageID, m.ID)
	}
	for k, v := range m.Metadata {
		ev = ev.WithMetadata(k, v)
	}
	return ev, nil
}

// FromNATS converts a NATS message into an event. JSON object bodies are read
// as a Message envelope; anything else is taken verbatim as a string payload.
// Headers override the envelope.
func FromNATS(msg *nats.Msg) (*event.Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	var ev *event.Event
	if body := bytes.TrimSpace(msg.Data); len(body) > 0 && body[0] == '{' {
		env, err := FromBytes(body)
		if err != nil {
			return nil, err
		}
		if ev, err = env.ToEvent(); err != nil {
			return nil, err
		}
	} else {
		ev = event.New(string(msg.Data))
	}

	if v := msg.Header.Get(callback.HeaderCorrelationID); v != "" {
		ev = ev.WithCorrelationID(v)
	}
	if v := msg.Header.Get(HeaderExchangePattern); v != "" {
		p, err := event.ParseExchangePattern(v)
		if err != nil {
			return nil, err
		}
		ev = ev.WithExchangePattern(p)
	}
	if msg.Header.Get(HeaderNonBlocking) == "true" {
		ev = ev.WithNonBlocking(true)
	}

	ev = ev.WithMetadata(MetadataSubject, msg.Subject)
	if msg.Reply != "" {
		ev = ev.WithMetadata(MetadataReply, msg.Reply)
	}
	return ev, nil
}
