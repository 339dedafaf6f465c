package synapse

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies an envelope.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeError        MessageType = "error"
	TypeHandshake    MessageType = "handshake"
	TypeHeartbeat    MessageType = "heartbeat"
)

// Terminal reports whether t completes a request.
func (t MessageType) Terminal() bool {
	return t == TypeResponse || t == TypeError
}

// Deliverable reports whether envelopes of type t are handed to an agent.
func (t MessageType) Deliverable() bool {
	return t == TypeRequest || t == TypeNotification
}

// Envelope is the addressed, typed unit exchanged through a Synapse.
type Envelope struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Sender     string      `json:"sender"`
	Recipient  string      `json:"recipient,omitempty"`
	Recipients []string    `json:"recipients,omitempty"`
	Payload    string      `json:"payload,omitempty"`

	// CorrelationID links a delivered envelope to its single terminal reply.
	CorrelationID string `json:"correlation_id,omitempty"`

	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Error carries the upstream message on ERROR envelopes.
	Error string `json:"error,omitempty"`
	err   error
}

// NewEnvelope creates an envelope with a fresh ID. Request envelopes also
// get a fresh correlation ID.
func NewEnvelope(typ MessageType, sender, recipient, payload string) Envelope {
	e := Envelope{
		ID:        uuid.New().String(),
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if typ == TypeRequest {
		e.CorrelationID = uuid.New().String()
	}
	return e
}

// Err returns the error carried by an ERROR envelope
func (e Envelope) Err() error {
	if e.Type != TypeError {
		return nil
	}
	if e.err != nil {
		return e.err
	}
	return errors.New(e.Error)
}

// WithMetadata returns a copy of the envelope with key set
func (e Envelope) WithMetadata(key string, value any) Envelope {
	e.Metadata = maps.Clone(e.Metadata)
	if e.Metadata == nil {
		e.Metadata = make(map[string]any, 1)
	}
	e.Metadata[key] = value
	return e
}

// reply builds the terminal answer to a delivered envelope.
func (e Envelope) reply(output string) Envelope {
	r := NewEnvelope(TypeResponse, e.Recipient, e.Sender, output)
	r.CorrelationID = e.CorrelationID
	return r
}

// fail builds the ERROR answer to a delivered envelope.
func (e Envelope) fail(err error) Envelope {
	r := NewEnvelope(TypeError, e.Recipient, e.Sender, "")
	r.CorrelationID = e.CorrelationID
	r.Error = err.Error()
	r.err = err
	return r
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{%s %s -> %s, corr=%s}", e.Type, e.Sender, e.Recipient, e.CorrelationID)
}
