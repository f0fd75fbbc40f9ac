// Package bus fans governance events out to in-process subscribers or Kafka.
package bus

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/recoguard/recoguard/internal/pkg/errors"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "record.created").
	Type string `json:"type"`

	// Source is the service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// RequestID is the recommendation request the event belongs to.
	RequestID string `json:"request_id,omitempty"`

	// Payload is the JSON-encoded event body.
	Payload json.RawMessage `json:"payload"`
}

// Topics for governance events.
const (
	TopicRecords    = "recoguard.records"
	TopicAlerts     = "recoguard.alerts"
	TopicThresholds = "recoguard.thresholds"
)

// Event types.
const (
	TypeRecordCreated      = "record.created"
	TypeAlertRaised        = "alert.raised"
	TypeThresholdsReloaded = "thresholds.reloaded"
)

// NewEvent encodes payload into a new event with a fresh id.
func NewEvent(eventType, source, requestID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.InternalError("failed to marshal event payload", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		RequestID: requestID,
		Payload:   data,
	}, nil
}

// Decode unmarshals an event payload into T.
func Decode[T any](event Event) (T, error) {
	var v T
	if len(event.Payload) == 0 {
		return v, errors.New(errors.CodeInvalidInput, "event has no payload")
	}
	if err := json.Unmarshal(event.Payload, &v); err != nil {
		return v, errors.Wrap(errors.CodeInvalidInput, "failed to decode event payload", err)
	}
	return v, nil
}
