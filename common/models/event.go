package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Known Discourse event types. The set is open: any other value is valid and is
// routed to the generic processor.
const (
	EventTypeUserCreated   = "user_created"
	EventTypeUserUpdated   = "user_updated"
	EventTypeUserDestroyed = "user_destroyed"
	EventTypeNotification  = "notification_created"
	EventTypePostCreated   = "post_created"
	EventTypeTopicCreated  = "topic_created"
	EventTypePing          = "ping"
)

// EventHeaders are the webhook headers retained with an event.
type EventHeaders struct {
	EventType string `json:"event_type"`
	Signature string `json:"signature"`
	EventID   string `json:"event_id,omitempty"`
	Instance  string `json:"instance,omitempty"`
}

// WebhookEvent is an authenticated inbound webhook. Payload holds the body
// bytes exactly as received.
type WebhookEvent struct {
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	Headers    EventHeaders    `json:"headers"`
	ReceivedAt time.Time       `json:"received_at"`
}

// QueueEnvelope is the unit stored on the broker.
//
// RetryCount mirrors the transport-level delivery counter for observability.
// The counter that drives retry decisions lives in delivery metadata and the
// published payload is never rewritten.
type QueueEnvelope struct {
	ID         string       `json:"id"`
	Event      WebhookEvent `json:"event"`
	EnqueuedAt time.Time    `json:"timestamp"`
	RetryCount int          `json:"retry_count"`
}

// ProcessingOutcome is the result a processor reports for one event.
type ProcessingOutcome struct {
	Success     bool      `json:"success"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ErrInvalidPayload is returned when a payload is not a JSON document.
var ErrInvalidPayload = errors.New("payload is not valid JSON")

// NewWebhookEvent builds an event from the raw body and headers. The body is
// kept verbatim; it must already have been authenticated.
func NewWebhookEvent(headers EventHeaders, rawBody []byte, receivedAt time.Time) (*WebhookEvent, error) {
	if !json.Valid(rawBody) {
		return nil, ErrInvalidPayload
	}
	payload := make(json.RawMessage, len(rawBody))
	copy(payload, rawBody)

	return &WebhookEvent{
		EventType:  headers.EventType,
		Payload:    payload,
		Headers:    headers,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}

// NewQueueEnvelope wraps an event with a freshly allocated id.
func NewQueueEnvelope(event *WebhookEvent, enqueuedAt time.Time) *QueueEnvelope {
	return &QueueEnvelope{
		ID:         uuid.New().String(),
		Event:      *event,
		EnqueuedAt: enqueuedAt.UTC(),
		RetryCount: 0,
	}
}

// EventKey identifies the logical event for idempotency purposes. It prefers
// the sender's event id and falls back to the envelope id.
func (e *QueueEnvelope) EventKey() string {
	if e.Event.Headers.EventID != "" {
		return e.Event.Headers.EventID
	}
	return e.ID
}

// Marshal encodes the envelope in its wire format.
func (e *QueueEnvelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire-format envelope.
func DecodeEnvelope(data []byte) (*QueueEnvelope, error) {
	var env QueueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("decode envelope: missing id")
	}
	if env.RetryCount < 0 {
		env.RetryCount = 0
	}
	return &env, nil
}

// Succeeded builds a successful outcome for the event.
func Succeeded(eventID, eventType string) ProcessingOutcome {
	return ProcessingOutcome{
		Success:     true,
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
}

// Failed builds a failed outcome carrying err's message.
func Failed(eventID, eventType string, err error) ProcessingOutcome {
	out := ProcessingOutcome{
		Success:     false,
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
